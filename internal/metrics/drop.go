package metrics

import "quoteflow/logger"

// DropMetric identifies the metric name emitted when channel messages are dropped.
type DropMetric string

const (
	// DropMetricQuoteRaw records decoded responses dropped before parsing.
	DropMetricQuoteRaw DropMetric = "quote_messages_dropped"
	// DropMetricQuoteNorm records parsed batches dropped before the writer.
	DropMetricQuoteNorm DropMetric = "quote_batches_dropped"
)

// EmitDropMetric emits a counter of one for a dropped message. Empty source,
// market or stage values are left out of the fields.
func EmitDropMetric(log *logger.Log, metric DropMetric, source, market, stage string) {
	fields := logger.Fields{}
	if source != "" {
		fields["source"] = source
	}
	if market != "" {
		fields["market"] = market
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "channel_drops", string(metric), 1, "counter", fields)
}
