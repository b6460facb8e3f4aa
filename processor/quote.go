package processor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	appconfig "quoteflow/config"
	"quoteflow/internal/channel"
	"quoteflow/internal/metrics"
	"quoteflow/internal/quote"
	"quoteflow/logger"
	"quoteflow/models"
)

const component = "quote_processor"

// QuoteProcessor parses raw quote responses and groups the quotes into
// per-market batches for the writer.
type QuoteProcessor struct {
	config   *appconfig.Config
	parser   *quote.Parser
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	batches   map[models.Market]*models.QuoteBatch
	lastFlush map[models.Market]time.Time

	messagesProcessed atomic.Int64
	batchesProcessed  atomic.Int64
	quotesProcessed   atomic.Int64
	segmentsFailed    atomic.Int64
	batchesDropped    atomic.Int64
}

func NewQuoteProcessor(cfg *appconfig.Config, channels *channel.Channels, parser *quote.Parser) *QuoteProcessor {
	if parser == nil {
		parser = quote.DefaultParser
	}
	return &QuoteProcessor{
		config:    cfg,
		parser:    parser,
		channels:  channels,
		wg:        &sync.WaitGroup{},
		log:       logger.GetLogger(),
		batches:   make(map[models.Market]*models.QuoteBatch),
		lastFlush: make(map[models.Market]time.Time),
	}
}

func (p *QuoteProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("quote processor already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent(component).WithFields(logger.Fields{"operation": "start"})

	numWorkers := p.config.Processor.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	log.WithFields(logger.Fields{
		"workers":       numWorkers,
		"batch_size":    p.config.Processor.BatchSize,
		"batch_timeout": p.config.Processor.BatchTimeout,
	}).Info("starting quote processor")

	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.wg.Add(1)
	go p.batchFlusher()

	go p.metricsReporter(ctx)

	return nil
}

// Stop flushes pending batches and waits for the workers.
func (p *QuoteProcessor) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent(component).Info("stopping quote processor")
	p.wg.Wait()
	p.flushAllBatches()
	p.log.WithComponent(component).Info("quote processor stopped")
}

// Stats returns a snapshot of the processor counters.
func (p *QuoteProcessor) Stats() metrics.ProcessorStats {
	p.mu.RLock()
	active := len(p.batches)
	p.mu.RUnlock()
	return metrics.ProcessorStats{
		MessagesProcessed: p.messagesProcessed.Load(),
		BatchesProcessed:  p.batchesProcessed.Load(),
		QuotesProcessed:   p.quotesProcessed.Load(),
		SegmentsFailed:    p.segmentsFailed.Load(),
		ActiveBatches:     active,
		RawChannelLen:     len(p.channels.Raw),
		RawChannelCap:     cap(p.channels.Raw),
		NormChannelLen:    len(p.channels.Norm),
		NormChannelCap:    cap(p.channels.Norm),
	}
}

func (p *QuoteProcessor) worker(workerID int) {
	defer p.wg.Done()

	log := p.log.WithComponent(component).WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "quote_processor",
	})
	log.Info("starting processor worker")

	for {
		select {
		case <-p.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case msg, ok := <-p.channels.Raw:
			if !ok {
				log.Info("raw channel closed, worker stopping")
				return
			}

			start := time.Now()
			n := p.processMessage(p.ctx, msg)
			p.messagesProcessed.Add(1)

			logger.LogPerformanceEntry(log, component, "process_message", time.Since(start), logger.Fields{
				"worker_id":        workerID,
				"source":           msg.Source,
				"quotes_processed": n,
			})
		}
	}
}

// processMessage parses msg and returns the number of quotes batched.
// Segments that fail to parse are logged and skipped.
func (p *QuoteProcessor) processMessage(ctx context.Context, msg models.RawQuoteMessage) int {
	log := p.log.WithComponent(component).WithFields(logger.Fields{
		"source":    msg.Source,
		"symbols":   len(msg.Symbols),
		"operation": "process_message",
	})

	byMarket := make(map[models.Market][]models.Quote)
	count := 0
	for _, r := range p.parser.ParseAll(msg.Data) {
		if r.Err != nil {
			p.segmentsFailed.Add(1)
			log.WithError(r.Err).Warn("failed to parse quote segment")
			continue
		}
		byMarket[r.Quote.Market] = append(byMarket[r.Quote.Market], r.Quote)
		count++
	}
	if count == 0 {
		log.Warn("no quotes parsed from message")
		return 0
	}

	for market, quotes := range byMarket {
		p.addToBatch(ctx, msg, market, quotes)
	}
	p.quotesProcessed.Add(int64(count))
	logger.LogDataFlowEntry(log, "raw_channel", "quote_batches", count, "quotes")
	return count
}

func (p *QuoteProcessor) addToBatch(ctx context.Context, msg models.RawQuoteMessage, market models.Market, quotes []models.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch, exists := p.batches[market]
	if !exists {
		batch = &models.QuoteBatch{
			BatchID:     uuid.New().String(),
			Source:      msg.Source,
			Market:      market,
			Quotes:      make([]models.Quote, 0, p.config.Processor.BatchSize),
			Timestamp:   msg.Timestamp,
			ProcessedAt: time.Now(),
		}
		p.batches[market] = batch
		p.lastFlush[market] = time.Now()
	}

	batch.Quotes = append(batch.Quotes, quotes...)
	batch.RecordCount = len(batch.Quotes)
	if msg.Timestamp.After(batch.Timestamp) {
		batch.Timestamp = msg.Timestamp
	}

	if batch.RecordCount >= p.config.Processor.BatchSize {
		p.flushBatch(ctx, market)
	}
}

func (p *QuoteProcessor) batchFlusher() {
	defer p.wg.Done()

	interval := p.config.Processor.BatchTimeout
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.flushTimedOutBatches()
		}
	}
}

func (p *QuoteProcessor) flushTimedOutBatches() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for market, lastFlush := range p.lastFlush {
		if now.Sub(lastFlush) >= p.config.Processor.BatchTimeout {
			p.flushBatch(p.ctx, market)
		}
	}
}

// flushBatch sends the market's batch and forgets it. A batch that does not
// fit in the norm channel is dropped. Callers hold p.mu.
func (p *QuoteProcessor) flushBatch(ctx context.Context, market models.Market) {
	batch, exists := p.batches[market]
	if !exists || batch.RecordCount == 0 {
		return
	}

	log := p.log.WithComponent(component).WithFields(logger.Fields{
		"batch_id":     batch.BatchID,
		"market":       market,
		"record_count": batch.RecordCount,
		"operation":    "flush_batch",
	})

	if !p.channels.SendNorm(ctx, *batch) {
		if ctx.Err() != nil {
			return
		}
		p.batchesDropped.Add(1)
		log.Warn("norm channel is full, dropping batch")
		metrics.EmitDropMetric(p.log, metrics.DropMetricQuoteNorm, batch.Source, string(market), "processor")
	} else {
		p.batchesProcessed.Add(1)
		logger.LogDataFlowEntry(log, component, "norm_channel", batch.RecordCount, "quote_batch")
	}
	delete(p.batches, market)
	delete(p.lastFlush, market)
}

// flushAllBatches runs after the context is done, so it sends with a fresh one.
func (p *QuoteProcessor) flushAllBatches() {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := p.log.WithComponent(component).WithFields(logger.Fields{"operation": "flush_all_batches"})
	for market := range p.batches {
		p.flushBatch(context.Background(), market)
	}
	log.WithFields(logger.Fields{"remaining_batches": len(p.batches)}).Info("all batches flushed")
}

func (p *QuoteProcessor) metricsReporter(ctx context.Context) {
	interval := p.config.Metrics.ReportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportProcessor(p.log, p.Stats())
		}
	}
}
