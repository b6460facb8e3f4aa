package channel

import (
	"context"
	"sync"
	"time"

	"quoteflow/logger"
	"quoteflow/models"
)

type ChannelStats struct {
	RawSent     int64 `json:"raw_sent"`
	NormSent    int64 `json:"norm_sent"`
	RawDropped  int64 `json:"raw_dropped"`
	NormDropped int64 `json:"norm_dropped"`
}

// Channels connects the quote readers, the processor and the writer.
// Raw carries decoded endpoint responses, Norm carries parsed batches.
type Channels struct {
	Raw  chan models.RawQuoteMessage
	Norm chan models.QuoteBatch

	stats      ChannelStats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewChannels(rawBufferSize, normBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:  make(chan models.RawQuoteMessage, rawBufferSize),
		Norm: make(chan models.QuoteBatch, normBufferSize),
		log:  log,
	}

	log.WithComponent("quote_channels").WithFields(logger.Fields{
		"raw_buffer_size":  rawBufferSize,
		"norm_buffer_size": normBufferSize,
	}).Info("quote channels initialized")

	return c
}

// Close closes both channels. Only the first call has an effect.
func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Raw)
		close(c.Norm)
		c.log.WithComponent("quote_channels").Info("quote channels closed")
	})
}

// SendRaw enqueues msg without blocking. It reports false when the buffer is
// full or ctx is done.
func (c *Channels) SendRaw(ctx context.Context, msg models.RawQuoteMessage) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case c.Raw <- msg:
		c.statsMutex.Lock()
		c.stats.RawSent++
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("quote_raw", len(msg.Data))
		return true
	default:
		c.statsMutex.Lock()
		c.stats.RawDropped++
		c.statsMutex.Unlock()
		return false
	}
}

// SendNorm enqueues a parsed batch without blocking.
func (c *Channels) SendNorm(ctx context.Context, msg models.QuoteBatch) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	select {
	case c.Norm <- msg:
		c.statsMutex.Lock()
		c.stats.NormSent++
		c.statsMutex.Unlock()
		logger.RecordChannelMessage("quote_norm", msg.RecordCount)
		return true
	default:
		c.statsMutex.Lock()
		c.stats.NormDropped++
		c.statsMutex.Unlock()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// StartMetricsReporting logs channel statistics every interval until ctx is done.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	stats := c.GetStats()
	c.log.WithComponent("quote_channels").WithFields(logger.Fields{
		"raw_sent":     stats.RawSent,
		"norm_sent":    stats.NormSent,
		"raw_dropped":  stats.RawDropped,
		"norm_dropped": stats.NormDropped,
		"raw_len":      len(c.Raw),
		"raw_cap":      cap(c.Raw),
		"norm_len":     len(c.Norm),
		"norm_cap":     cap(c.Norm),
	}).Info("channel statistics")
}
