package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "quoteflow/config"
	"quoteflow/internal/channel"
	"quoteflow/internal/metrics"
	"quoteflow/logger"
	"quoteflow/models"
)

const (
	component = "s3_writer"

	defaultTimeFormat = "year={year}/month={month}/day={day}/hour={hour}"
)

// QuoteRecord is one parquet row.
type QuoteRecord struct {
	BatchID       string  `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source        string  `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	Market        string  `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol        string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name          string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	CurrentPrice  float64 `parquet:"name=current_price, type=DOUBLE"`
	PreviousClose float64 `parquet:"name=previous_close, type=DOUBLE"`
	OpenPrice     float64 `parquet:"name=open_price, type=DOUBLE"`
	DayHigh       float64 `parquet:"name=day_high, type=DOUBLE"`
	DayLow        float64 `parquet:"name=day_low, type=DOUBLE"`
	Volume        int64   `parquet:"name=volume, type=INT64"`
	Amount        int64   `parquet:"name=amount, type=INT64"`
	Change        float64 `parquet:"name=change, type=DOUBLE"`
	ChangePercent float64 `parquet:"name=change_percent, type=DOUBLE"`
	QuoteTime     string  `parquet:"name=quote_time, type=BYTE_ARRAY, convertedtype=UTF8"`
	Layout        string  `parquet:"name=layout, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp     int64   `parquet:"name=timestamp, type=INT64"`
}

// memoryFileWriter is an in-memory source.ParquetFile.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

// Seek only reports the write position; the parquet writer never rewinds.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type bufferedBatch struct {
	batchID string
	source  string
	quotes  []models.Quote
	first   time.Time
}

// QuoteWriter buffers quote batches per market and uploads them to S3 as
// parquet files.
type QuoteWriter struct {
	config   *appconfig.Config
	channels *channel.Channels
	s3Client objectPutter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	bufMu  sync.Mutex
	buffer map[models.Market][]bufferedBatch

	batchesWritten atomic.Int64
	quotesWritten  atomic.Int64
	filesWritten   atomic.Int64
	bytesWritten   atomic.Int64
	errorsCount    atomic.Int64
}

// NewQuoteWriter loads AWS credentials and builds the S3 client.
func NewQuoteWriter(cfg *appconfig.Config, channels *channel.Channels) (*QuoteWriter, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent(component).WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent(component).WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"prefix":     cfg.Storage.S3.Prefix,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("s3 writer initialized")

	return newQuoteWriter(cfg, channels, client), nil
}

func newQuoteWriter(cfg *appconfig.Config, channels *channel.Channels, client objectPutter) *QuoteWriter {
	return &QuoteWriter{
		config:   cfg,
		channels: channels,
		s3Client: client,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		buffer:   make(map[models.Market][]bufferedBatch),
	}
}

func (w *QuoteWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("s3 writer already running")
	}
	w.running = true
	w.ctx = ctx
	w.mu.Unlock()

	log := w.log.WithComponent(component).WithFields(logger.Fields{"operation": "start"})

	numWorkers := w.config.Writer.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	log.WithFields(logger.Fields{
		"workers":        numWorkers,
		"flush_interval": w.config.Writer.Buffer.FlushInterval,
		"max_size":       w.config.Writer.Buffer.MaxSize,
	}).Info("starting s3 writer")

	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.worker(i)
	}

	w.wg.Add(1)
	go w.flushWorker()

	go w.metricsReporter(ctx)
	return nil
}

// Stop waits for the workers, which flush their buffers on the way out.
func (w *QuoteWriter) Stop() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.log.WithComponent(component).Info("stopping s3 writer")
	w.wg.Wait()
	w.log.WithComponent(component).Info("s3 writer stopped")
}

// Stats returns a snapshot of the writer counters.
func (w *QuoteWriter) Stats() metrics.WriterStats {
	stats := metrics.WriterStats{
		BatchesWritten: w.batchesWritten.Load(),
		QuotesWritten:  w.quotesWritten.Load(),
		FilesWritten:   w.filesWritten.Load(),
		BytesWritten:   w.bytesWritten.Load(),
		ErrorsCount:    w.errorsCount.Load(),
	}
	if w.channels != nil {
		stats.NormChannelLen = len(w.channels.Norm)
		stats.NormChannelCap = cap(w.channels.Norm)
	}
	return stats
}

func (w *QuoteWriter) worker(workerID int) {
	defer w.wg.Done()

	log := w.log.WithComponent(component).WithFields(logger.Fields{
		"worker_id": workerID,
		"worker":    "s3_writer",
	})
	log.Info("starting s3 writer worker")

	for {
		select {
		case <-w.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case batch, ok := <-w.channels.Norm:
			if !ok {
				log.Info("norm channel closed, worker stopping")
				return
			}
			if full := w.addBatch(batch); full {
				w.flushMarket(batch.Market, "max_size")
			}
		}
	}
}

// addBatch buffers batch and reports whether its market reached the
// configured maximum size.
func (w *QuoteWriter) addBatch(batch models.QuoteBatch) bool {
	if len(batch.Quotes) == 0 {
		return false
	}
	w.bufMu.Lock()
	defer w.bufMu.Unlock()

	w.buffer[batch.Market] = append(w.buffer[batch.Market], bufferedBatch{
		batchID: batch.BatchID,
		source:  batch.Source,
		quotes:  batch.Quotes,
		first:   batch.Timestamp,
	})
	w.batchesWritten.Add(1)

	limit := w.config.Writer.Buffer.MaxSize
	if limit <= 0 {
		return false
	}
	n := 0
	for _, b := range w.buffer[batch.Market] {
		n += len(b.quotes)
	}
	return n >= limit
}

func (w *QuoteWriter) flushWorker() {
	defer w.wg.Done()

	interval := w.config.Writer.Buffer.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := w.log.WithComponent(component).WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			w.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-ticker.C:
			w.flushBuffers("interval")
		}
	}
}

// drain buffers whatever is already queued on the norm channel.
func (w *QuoteWriter) drain() {
	for {
		select {
		case batch, ok := <-w.channels.Norm:
			if !ok {
				return
			}
			w.addBatch(batch)
		default:
			return
		}
	}
}

func (w *QuoteWriter) flushBuffers(reason string) {
	w.bufMu.Lock()
	buffers := w.buffer
	w.buffer = make(map[models.Market][]bufferedBatch)
	w.bufMu.Unlock()

	if len(buffers) == 0 {
		return
	}
	w.log.WithComponent(component).WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing buffers")

	for market, batches := range buffers {
		w.writeMarket(market, batches)
	}
}

func (w *QuoteWriter) flushMarket(market models.Market, reason string) {
	w.bufMu.Lock()
	batches := w.buffer[market]
	delete(w.buffer, market)
	w.bufMu.Unlock()

	if len(batches) == 0 {
		return
	}
	w.log.WithComponent(component).WithFields(logger.Fields{
		"market": market,
		"reason": reason,
	}).Info("flushing market buffer")
	w.writeMarket(market, batches)
}

func (w *QuoteWriter) writeMarket(market models.Market, batches []bufferedBatch) {
	records := make([]QuoteRecord, 0)
	ts := batches[0].first
	for _, b := range batches {
		if b.first.Before(ts) {
			ts = b.first
		}
		for _, q := range b.quotes {
			records = append(records, toRecord(b, q))
		}
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	key := w.generateS3Key(market, ts)
	log := w.log.WithComponent(component).WithFields(logger.Fields{
		"market":       market,
		"record_count": len(records),
		"s3_key":       key,
		"operation":    "write_market",
	})

	data, err := w.createParquetFile(records)
	if err != nil {
		w.errorsCount.Add(1)
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := w.uploadToS3(key, data); err != nil {
		w.errorsCount.Add(1)
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": w.config.Storage.S3.Bucket}).
			Error("failed to upload to S3")
		return
	}

	w.filesWritten.Add(1)
	w.quotesWritten.Add(int64(len(records)))
	w.bytesWritten.Add(int64(len(data)))
	logger.IncrementS3Write(int64(len(data)))
	logger.LogDataFlowEntry(log, "norm_channel", "s3", len(records), "quotes")
}

func toRecord(b bufferedBatch, q models.Quote) QuoteRecord {
	return QuoteRecord{
		BatchID:       b.batchID,
		Source:        b.source,
		Market:        string(q.Market),
		Symbol:        q.Symbol,
		Name:          q.Name,
		CurrentPrice:  q.CurrentPrice,
		PreviousClose: q.PreviousClose,
		OpenPrice:     q.OpenPrice,
		DayHigh:       q.DayHigh,
		DayLow:        q.DayLow,
		Volume:        q.Volume,
		Amount:        q.Amount,
		Change:        q.Change,
		ChangePercent: q.ChangePercent,
		QuoteTime:     q.Timestamp,
		Layout:        q.Layout,
		Timestamp:     b.first.UnixMilli(),
	}
}

// generateS3Key builds <prefix>/market=<m>/<time partition>/quotes_<m>_<ts>_<id>.parquet.
func (w *QuoteWriter) generateS3Key(market models.Market, timestamp time.Time) string {
	timestamp = timestamp.UTC()

	timeFormat := w.config.Writer.Partitioning.TimeFormat
	if timeFormat == "" {
		timeFormat = defaultTimeFormat
	}
	timePath := strings.ReplaceAll(timeFormat, "{year}", fmt.Sprintf("%04d", timestamp.Year()))
	timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", timestamp.Month()))
	timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", timestamp.Day()))
	timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", timestamp.Hour()))

	filename := fmt.Sprintf("quotes_%s_%s_%s.parquet",
		market,
		timestamp.Format("20060102150405"),
		uuid.New().String()[:8])

	parts := make([]string, 0, 4)
	if prefix := strings.Trim(w.config.Storage.S3.Prefix, "/"); prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, fmt.Sprintf("market=%s", market), timePath, filename)
	return path.Join(parts...)
}

func (w *QuoteWriter) createParquetFile(records []QuoteRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(QuoteRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if size := w.config.Writer.Formats.Parquet.PageSize; size > 0 {
		pw.PageSize = int64(size)
	}

	switch w.config.Writer.Formats.Parquet.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "zstd":
		pw.CompressionType = parquet.CompressionCodec_ZSTD
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, record := range records {
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (w *QuoteWriter) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       w.config.Writer.Formats.Parquet.Compression,
			"quoteflow-version": w.config.Quoteflow.Version,
		},
	}

	ctx := context.Background()
	if w.ctx != nil {
		ctx = context.WithoutCancel(w.ctx)
	}
	if _, err := w.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.config.Storage.S3.Bucket, err)
	}
	return nil
}

func (w *QuoteWriter) metricsReporter(ctx context.Context) {
	interval := w.config.Metrics.ReportInterval
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
			metrics.ReportWriter(w.log, component, w.Stats())
		}
	}
}
