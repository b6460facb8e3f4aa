package metrics

import (
	"context"
	"time"

	"quoteflow/internal/channel"
	"quoteflow/logger"
)

// StartChannelSizeMetrics emits occupancy of the raw and norm quote buffers
// every interval until ctx is cancelled. A one-second cadence is used when
// interval <= 0.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelSize) || channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				EmitMetric(log, component, "quote_raw_buffer_length", len(channels.Raw), "gauge", logger.Fields{
					"buffer":   "quote_raw",
					"capacity": cap(channels.Raw),
				})
				EmitMetric(log, component, "quote_norm_buffer_length", len(channels.Norm), "gauge", logger.Fields{
					"buffer":   "quote_norm",
					"capacity": cap(channels.Norm),
				})
			}
		}
	}()
}
