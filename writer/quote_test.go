package writer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "quoteflow/config"
	"quoteflow/internal/channel"
	"quoteflow/models"
)

type fakePutter struct {
	mu      sync.Mutex
	buckets []string
	keys    []string
	bodies  [][]byte
	err     error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = append(f.buckets, aws.ToString(in.Bucket))
	f.keys = append(f.keys, aws.ToString(in.Key))
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Quoteflow: appconfig.QuoteflowConfig{Name: "quoteflow", Version: "test"},
		Writer: appconfig.WriterConfig{
			MaxWorkers: 1,
			Buffer:     appconfig.BufferConfig{FlushInterval: time.Hour},
		},
		Storage: appconfig.StorageConfig{S3: appconfig.S3Config{
			Enabled: true,
			Bucket:  "quotes-bucket",
			Prefix:  "/snapshots/",
		}},
	}
}

func quoteBatch(market models.Market, symbols ...string) models.QuoteBatch {
	quotes := make([]models.Quote, 0, len(symbols))
	for _, s := range symbols {
		quotes = append(quotes, models.Quote{
			Market:       market,
			Symbol:       s,
			Name:         "name " + s,
			CurrentPrice: 10.5,
			Volume:       1000,
			Layout:       "final",
		})
	}
	return models.QuoteBatch{
		BatchID:     "batch-" + string(market),
		Source:      "tencent",
		Market:      market,
		Quotes:      quotes,
		RecordCount: len(quotes),
		Timestamp:   time.Date(2025, 9, 12, 8, 30, 0, 0, time.UTC),
	}
}

func TestGenerateS3Key(t *testing.T) {
	w := newQuoteWriter(testConfig(), nil, &fakePutter{})
	ts := time.Date(2025, 9, 12, 8, 30, 15, 0, time.UTC)

	key := w.generateS3Key(models.MarketShanghai, ts)
	want := regexp.MustCompile(`^snapshots/market=sh/year=2025/month=09/day=12/hour=08/quotes_sh_20250912083015_[0-9a-f]{8}\.parquet$`)
	if !want.MatchString(key) {
		t.Fatalf("unexpected key %q", key)
	}

	w.config.Storage.S3.Prefix = ""
	w.config.Writer.Partitioning.TimeFormat = "dt={year}-{month}-{day}"
	key = w.generateS3Key(models.MarketShenzhen, ts)
	want = regexp.MustCompile(`^market=sz/dt=2025-09-12/quotes_sz_20250912083015_[0-9a-f]{8}\.parquet$`)
	if !want.MatchString(key) {
		t.Fatalf("unexpected key %q", key)
	}
}

func TestCreateParquetFile(t *testing.T) {
	w := newQuoteWriter(testConfig(), nil, &fakePutter{})
	b := quoteBatch(models.MarketShanghai, "600519", "601318")
	records := []QuoteRecord{
		toRecord(bufferedBatch{batchID: b.BatchID, source: b.Source, first: b.Timestamp}, b.Quotes[0]),
		toRecord(bufferedBatch{batchID: b.BatchID, source: b.Source, first: b.Timestamp}, b.Quotes[1]),
	}

	data, err := w.createParquetFile(records)
	if err != nil {
		t.Fatalf("create parquet: %v", err)
	}
	magic := []byte("PAR1")
	if len(data) <= 2*len(magic) || !bytes.HasPrefix(data, magic) || !bytes.HasSuffix(data, magic) {
		t.Fatalf("output is not a parquet file (%d bytes)", len(data))
	}
	if records[0].Timestamp != b.Timestamp.UnixMilli() || records[0].Market != "sh" {
		t.Fatalf("unexpected record %+v", records[0])
	}
}

func TestAddBatchReportsMaxSize(t *testing.T) {
	cfg := testConfig()
	cfg.Writer.Buffer.MaxSize = 3
	w := newQuoteWriter(cfg, nil, &fakePutter{})

	if w.addBatch(quoteBatch(models.MarketShanghai, "600519", "601318")) {
		t.Fatalf("buffer reported full too early")
	}
	if w.addBatch(quoteBatch(models.MarketShenzhen, "000001")) {
		t.Fatalf("markets must be counted separately")
	}
	if !w.addBatch(quoteBatch(models.MarketShanghai, "600000")) {
		t.Fatalf("expected buffer to report full")
	}
	if w.addBatch(models.QuoteBatch{Market: models.MarketShanghai}) {
		t.Fatalf("empty batch must be ignored")
	}
}

func TestFlushBuffersUploadsPerMarket(t *testing.T) {
	putter := &fakePutter{}
	w := newQuoteWriter(testConfig(), nil, putter)

	w.addBatch(quoteBatch(models.MarketShanghai, "600519", "601318"))
	w.addBatch(quoteBatch(models.MarketShenzhen, "000001"))
	w.flushBuffers("test")

	if putter.count() != 2 {
		t.Fatalf("expected 2 uploads, got %d", putter.count())
	}
	for _, bucket := range putter.buckets {
		if bucket != "quotes-bucket" {
			t.Fatalf("bucket = %q", bucket)
		}
	}
	stats := w.Stats()
	if stats.FilesWritten != 2 || stats.QuotesWritten != 3 || stats.ErrorsCount != 0 || stats.BytesWritten == 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	w.flushBuffers("test")
	if putter.count() != 2 {
		t.Fatalf("flush of empty buffers uploaded files")
	}
}

func TestUploadFailureCounted(t *testing.T) {
	putter := &fakePutter{err: errors.New("denied")}
	w := newQuoteWriter(testConfig(), nil, putter)

	w.addBatch(quoteBatch(models.MarketShanghai, "600519"))
	w.flushMarket(models.MarketShanghai, "test")

	stats := w.Stats()
	if stats.ErrorsCount != 1 || stats.FilesWritten != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestWriterStartStopFlushesOnShutdown(t *testing.T) {
	putter := &fakePutter{}
	ch := channel.NewChannels(1, 4)
	w := newQuoteWriter(testConfig(), ch, putter)

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}

	ch.Norm <- quoteBatch(models.MarketShanghai, "600519")
	deadline := time.Now().Add(2 * time.Second)
	for w.Stats().BatchesWritten == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("batch was not consumed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	w.Stop()

	if putter.count() != 1 {
		t.Fatalf("expected shutdown flush to upload 1 file, got %d", putter.count())
	}
}
