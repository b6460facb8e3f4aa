package metrics

import "quoteflow/logger"

// WriterStats holds counters for the parquet writer.
type WriterStats struct {
	BatchesWritten int64
	QuotesWritten  int64
	FilesWritten   int64
	BytesWritten   int64
	ErrorsCount    int64
	NormChannelLen int
	NormChannelCap int
}

// ReportWriter emits writer counters under component and logs a summary line,
// at warn level when any upload failed.
func ReportWriter(log *logger.Log, component string, stats WriterStats) {
	l := log.WithComponent(component)

	errorRate := float64(0)
	if attempts := stats.FilesWritten + stats.ErrorsCount; attempts > 0 {
		errorRate = float64(stats.ErrorsCount) / float64(attempts)
	}
	quotesPerFile := float64(0)
	if stats.FilesWritten > 0 {
		quotesPerFile = float64(stats.QuotesWritten) / float64(stats.FilesWritten)
	}

	EmitMetric(log, component, "quotes_written", stats.QuotesWritten, "counter", logger.Fields{})
	EmitMetric(log, component, "files_written", stats.FilesWritten, "counter", logger.Fields{})
	EmitMetric(log, component, "bytes_written", stats.BytesWritten, "counter", logger.Fields{"unit": "bytes"})
	EmitMetric(log, component, "upload_errors", stats.ErrorsCount, "counter", logger.Fields{})

	entry := l.WithFields(logger.Fields{
		"batches_written":     stats.BatchesWritten,
		"quotes_written":      stats.QuotesWritten,
		"files_written":       stats.FilesWritten,
		"bytes_written":       stats.BytesWritten,
		"upload_errors":       stats.ErrorsCount,
		"error_rate":          errorRate,
		"avg_quotes_per_file": quotesPerFile,
		"norm_channel_len":    stats.NormChannelLen,
		"norm_channel_cap":    stats.NormChannelCap,
	})
	if stats.ErrorsCount > 0 {
		entry.Warn("writer metrics")
		return
	}
	entry.Info("writer metrics")
}
