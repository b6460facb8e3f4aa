package metrics

import "quoteflow/logger"

// ProcessorStats holds counters for the quote processor.
type ProcessorStats struct {
	MessagesProcessed int64
	BatchesProcessed  int64
	QuotesProcessed   int64
	SegmentsFailed    int64
	ActiveBatches     int
	RawChannelLen     int
	RawChannelCap     int
	NormChannelLen    int
	NormChannelCap    int
}

// ReportProcessor emits the processor counters and logs a summary line.
func ReportProcessor(log *logger.Log, stats ProcessorStats) {
	const component = "quote_processor"
	l := log.WithComponent(component)

	failureRate := float64(0)
	if total := stats.QuotesProcessed + stats.SegmentsFailed; total > 0 {
		failureRate = float64(stats.SegmentsFailed) / float64(total)
	}

	EmitMetric(log, component, "messages_processed", stats.MessagesProcessed, "counter", logger.Fields{})
	EmitMetric(log, component, "batches_processed", stats.BatchesProcessed, "counter", logger.Fields{})
	EmitMetric(log, component, "quotes_processed", stats.QuotesProcessed, "counter", logger.Fields{})
	EmitMetric(log, component, "segments_failed", stats.SegmentsFailed, "counter", logger.Fields{})
	EmitMetric(log, component, "segment_failure_rate", failureRate, "gauge", logger.Fields{})

	l.WithFields(logger.Fields{
		"messages_processed":   stats.MessagesProcessed,
		"batches_processed":    stats.BatchesProcessed,
		"quotes_processed":     stats.QuotesProcessed,
		"segments_failed":      stats.SegmentsFailed,
		"segment_failure_rate": failureRate,
		"active_batches":       stats.ActiveBatches,
		"raw_channel_len":      stats.RawChannelLen,
		"raw_channel_cap":      stats.RawChannelCap,
		"norm_channel_len":     stats.NormChannelLen,
		"norm_channel_cap":     stats.NormChannelCap,
	}).Info("processor metrics")
}
