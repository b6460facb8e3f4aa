package tencent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"quoteflow/config"
	"quoteflow/internal/cache"
	"quoteflow/internal/channel"
	"quoteflow/internal/metrics"
	"quoteflow/internal/quote"
	"quoteflow/logger"
	"quoteflow/models"
)

const component = "tencent_reader"

// ErrNotFound is returned by FetchQuote when the response has no record for the code.
var ErrNotFound = errors.New("quote not found")

// Reader polls the Tencent quote endpoint and serves on-demand lookups.
type Reader struct {
	config   *config.Config
	client   *http.Client
	limiter  *rate.Limiter
	parser   *quote.Parser
	channels *channel.Channels
	symbols  []string
	localIP  string
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	cacheMu sync.Mutex
	cache   *cache.Cache[[]models.Quote]
}

// NewReader creates a reader for symbols whose connections originate from
// localIP. An empty localIP uses the system default.
func NewReader(cfg *config.Config, channels *channel.Channels, symbols []string, localIP string, parser *quote.Parser) *Reader {
	log := logger.GetLogger()
	src := cfg.Source.Tencent

	transport := &http.Transport{
		MaxIdleConns:        src.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: src.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     src.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     src.ConnectionPool.IdleConnTimeout,
	}
	if localIP != "" {
		if ip := net.ParseIP(localIP); ip != nil {
			dialer := &net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}
			transport.DialContext = dialer.DialContext
		} else {
			log.WithComponent(component).WithFields(logger.Fields{"ip": localIP}).Warn("invalid local ip, using default dialer")
		}
	}

	if parser == nil {
		parser = quote.DefaultParser
	}

	rps := src.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := src.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	cacheOpts := []cache.Option{
		cache.WithDefaultTTL(src.CacheTTL),
		cache.WithLogger(log.WithComponent(component)),
	}
	if cfg.Cache.Dir != "" {
		cacheOpts = append(cacheOpts, cache.WithDir(filepath.Join(cfg.Cache.Dir, "tencent")))
	}

	r := &Reader{
		config:   cfg,
		client:   &http.Client{Transport: transport, Timeout: src.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		parser:   parser,
		channels: channels,
		symbols:  normalize(symbols),
		localIP:  localIP,
		wg:       &sync.WaitGroup{},
		log:      log,
		cache:    cache.New[[]models.Quote](cacheOpts...),
	}

	log.WithComponent(component).WithFields(logger.Fields{
		"symbols":            len(r.symbols),
		"local_ip":           localIP,
		"max_idle_conns":     src.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": src.ConnectionPool.MaxConnsPerHost,
		"timeout":            src.Timeout,
	}).Info("tencent reader initialized")

	return r
}

// Symbols returns the normalized symbols this reader polls.
func (r *Reader) Symbols() []string {
	return append([]string(nil), r.symbols...)
}

// Start launches one polling worker per symbol batch.
func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reader already running")
	}
	src := r.config.Source.Tencent
	if !src.Enabled {
		r.mu.Unlock()
		return fmt.Errorf("tencent source is disabled")
	}
	if len(r.symbols) == 0 {
		r.mu.Unlock()
		return fmt.Errorf("no symbols configured")
	}
	if r.channels == nil {
		r.mu.Unlock()
		return fmt.Errorf("no output channels")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	batches := batchSymbols(r.symbols, src.BatchSize)
	log := r.log.WithComponent(component).WithFields(logger.Fields{"operation": "start", "local_ip": r.localIP})
	log.WithFields(logger.Fields{
		"symbols":  len(r.symbols),
		"batches":  len(batches),
		"interval": src.IntervalMs,
	}).Info("starting tencent reader")

	for i, batch := range batches {
		r.wg.Add(1)
		go r.pollWorker(i, batch)
	}
	return nil
}

// Stop waits for the workers to exit. Workers stop when the Start context is done.
func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent(component).Info("stopping tencent reader")
	r.wg.Wait()
	r.log.WithComponent(component).Info("tencent reader stopped")
}

func (r *Reader) pollWorker(id int, symbols []string) {
	defer r.wg.Done()

	log := r.log.WithComponent(component).WithFields(logger.Fields{
		"worker":  id,
		"symbols": len(symbols),
	})
	log.Info("starting quote worker")

	interval := time.Duration(r.config.Source.Tencent.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	now := time.Now()
	nextTick := now.Truncate(interval).Add(interval)
	timer := time.NewTimer(nextTick.Sub(now))
	defer timer.Stop()

	for {
		select {
		case <-r.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-timer.C:
			start := time.Now()
			r.poll(log, symbols)
			duration := time.Since(start)

			if duration > interval {
				log.WithFields(logger.Fields{
					"duration": duration.Milliseconds(),
					"interval": interval.Milliseconds(),
				}).Warn("fetch took longer than interval")
			}

			nextTick = start.Truncate(interval).Add(interval)
			timer.Reset(time.Until(nextTick))
		}
	}
}

func (r *Reader) poll(log *logger.Entry, symbols []string) {
	data, err := r.fetchRaw(r.ctx, symbols)
	if err != nil {
		if r.ctx.Err() == nil {
			log.WithError(err).Warn("failed to fetch quotes")
		}
		return
	}

	msg := models.RawQuoteMessage{
		Source:    "tencent",
		Symbols:   symbols,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	if r.channels.SendRaw(r.ctx, msg) {
		logger.LogDataFlowEntry(log, "tencent_api", "raw_channel", len(symbols), "quote_segments")
		return
	}
	if r.ctx.Err() != nil {
		return
	}
	log.Warn("raw channel is full, dropping data")
	metrics.EmitDropMetric(r.log, metrics.DropMetricQuoteRaw, "tencent", "", "reader")
}

// FetchQuotes returns the parsed quotes for codes. Bare 6 digit codes are
// prefixed with their exchange. Results are cached per symbol set.
func (r *Reader) FetchQuotes(ctx context.Context, codes []string) ([]models.Quote, error) {
	symbols := normalize(codes)
	if len(symbols) == 0 {
		return []models.Quote{}, nil
	}
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	key := cache.Key("tencent_quotes", map[string]any{"symbols": sorted})

	r.cacheMu.Lock()
	cached, ok := r.cache.Get(key)
	r.cacheMu.Unlock()
	if ok {
		return slices.Clone(cached), nil
	}

	data, err := r.fetchRaw(ctx, symbols)
	if err != nil {
		return nil, err
	}
	quotes := r.parser.Parse(data)

	r.cacheMu.Lock()
	r.cache.Put(key, quotes, r.config.Source.Tencent.CacheTTL)
	r.cacheMu.Unlock()
	return slices.Clone(quotes), nil
}

// FetchQuote returns the quote of a single code.
func (r *Reader) FetchQuote(ctx context.Context, code string) (models.Quote, error) {
	quotes, err := r.FetchQuotes(ctx, []string{code})
	if err != nil {
		return models.Quote{}, err
	}
	want := quote.FormatSymbol(code)
	for _, q := range quotes {
		if q.Code() == want {
			return q, nil
		}
	}
	return models.Quote{}, fmt.Errorf("%s: %w", want, ErrNotFound)
}

// ClearCache drops cached lookups.
func (r *Reader) ClearCache() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache.Clear()
}

// CacheLen reports the number of cached symbol sets.
func (r *Reader) CacheLen() int {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return r.cache.Len()
}

// CacheSizes reports the cache size under the name used by the dashboard.
func (r *Reader) CacheSizes() map[string]int {
	return map[string]int{"tencent_quotes": r.CacheLen()}
}

// EvictStale removes expired entries and stale mirror files.
func (r *Reader) EvictStale() int {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	return r.cache.Evict()
}

// fetchRaw performs one request and returns the GBK-decoded body.
func (r *Reader) fetchRaw(ctx context.Context, symbols []string) (string, error) {
	log := r.log.WithComponent(component).WithFields(logger.Fields{
		"operation": "fetch_quotes",
		"symbols":   len(symbols),
	})

	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	reqURL := r.config.Source.Tencent.URL + strings.Join(symbols, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Referer", "https://gu.qq.com/")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	logger.LogPerformanceEntry(log, component, "api_request", time.Since(start), logger.Fields{"bytes": len(body)})
	logger.IncrementQuoteRead(len(body))

	text, err := quote.DecodeGBK(body)
	if err != nil {
		return "", fmt.Errorf("decode gbk: %w", err)
	}
	return text, nil
}

func normalize(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		s := quote.FormatSymbol(c)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func batchSymbols(symbols []string, size int) [][]string {
	if size <= 0 {
		size = len(symbols)
	}
	var batches [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		batches = append(batches, symbols[start:end])
	}
	return batches
}
