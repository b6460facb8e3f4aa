package eastmoney

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Jeffail/gabs/v2"
	"golang.org/x/time/rate"

	"quoteflow/config"
	"quoteflow/internal/cache"
	"quoteflow/internal/quote"
	"quoteflow/logger"
	"quoteflow/models"
)

const (
	component = "eastmoney_reader"

	MaxDays  = 30
	MaxLimit = 50

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	referer   = "https://quote.eastmoney.com/"
)

// Provider serves on-demand Eastmoney lookups: basic info, fund flow, the
// top fund flow ranking and daily history. Every lookup is cached.
type Provider struct {
	cfg     config.EastmoneySourceConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log

	// mu guards the caches, which do no locking of their own.
	mu      sync.Mutex
	basic   *cache.Cache[models.StockInfo]
	flows   *cache.Cache[models.FundFlow]
	top     *cache.Cache[[]models.TopFundFlowStock]
	history *cache.Cache[[]models.KlineBar]
}

// NewProvider builds a provider from the eastmoney and cache sections of cfg.
// Outbound connections bind to localIP when it is a valid address.
func NewProvider(cfg *config.Config, localIP string) *Provider {
	log := logger.GetLogger()
	src := cfg.Source.Eastmoney

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
		}
	}

	rps := src.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := src.RateLimit.BurstSize
	if burst <= 0 {
		burst = 1
	}

	p := &Provider{
		cfg:     src,
		client:  &http.Client{Transport: transport, Timeout: src.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     log,
		basic:   newCache[models.StockInfo](cfg.Cache, "basic"),
		flows:   newCache[models.FundFlow](cfg.Cache, "flow"),
		top:     newCache[[]models.TopFundFlowStock](cfg.Cache, "top"),
		history: newCache[[]models.KlineBar](cfg.Cache, "history"),
	}

	log.WithComponent(component).WithFields(logger.Fields{
		"api_url":     src.APIURL,
		"history_url": src.HistoryURL,
		"rps":         rps,
		"cache_dir":   cfg.Cache.Dir,
	}).Info("eastmoney provider initialized")

	return p
}

func newCache[V any](cfg config.CacheConfig, name string) *cache.Cache[V] {
	opts := []cache.Option{
		cache.WithDefaultTTL(cfg.DefaultTTL),
		cache.WithLogger(logger.GetLogger().WithComponent(component).WithFields(logger.Fields{"cache": name})),
	}
	if cfg.Dir != "" {
		opts = append(opts, cache.WithDir(filepath.Join(cfg.Dir, "eastmoney", name)))
	}
	return cache.New[V](opts...)
}

// BasicInfo returns the current snapshot of code.
func (p *Provider) BasicInfo(ctx context.Context, code string) (models.StockInfo, error) {
	if err := validateCode(code); err != nil {
		return models.StockInfo{}, err
	}
	key := "basic_" + code
	p.mu.Lock()
	cached, ok := p.basic.Get(key)
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("secid", secID(code))
	params.Set("fields", "f43,f44,f45,f46,f47,f48,f57,f58,f59,f60,f169,f170")
	root, err := p.getJSON(ctx, p.cfg.APIURL, "/stock/get", params)
	if err != nil {
		return models.StockInfo{}, fmt.Errorf("basic info %s: %w", code, err)
	}
	data := root.S("data")
	if data == nil || data.Data() == nil {
		return models.StockInfo{}, fmt.Errorf("basic info %s: %w", code, ErrNoData)
	}

	div := math.Pow10(2)
	if places, ok := number(data, "f59"); ok && places >= 0 && places <= 6 {
		div = math.Pow10(int(places))
	}
	info := models.StockInfo{
		Code:          code,
		Name:          str(data, "f58"),
		Price:         num(data, "f43") / div,
		High:          num(data, "f44") / div,
		Low:           num(data, "f45") / div,
		Open:          num(data, "f46") / div,
		PreviousClose: num(data, "f60") / div,
		Change:        num(data, "f169") / div,
		ChangePercent: num(data, "f170") / 100,
		Volume:        int64(num(data, "f47")),
		Amount:        num(data, "f48") / 10000,
		Timestamp:     time.Now().Format(time.RFC3339),
	}

	p.mu.Lock()
	p.basic.Put(key, info, 0)
	p.mu.Unlock()
	return info, nil
}

// FundFlow returns up to days daily fund flow klines for code.
func (p *Provider) FundFlow(ctx context.Context, code string, days int) (models.FundFlow, error) {
	if err := validateCode(code); err != nil {
		return models.FundFlow{}, err
	}
	if err := validateDays(days); err != nil {
		return models.FundFlow{}, err
	}
	key := fmt.Sprintf("flow_%s_%d", code, days)
	p.mu.Lock()
	cached, ok := p.flows.Get(key)
	p.mu.Unlock()
	if ok {
		cached.Days = slices.Clone(cached.Days)
		return cached, nil
	}

	params := url.Values{}
	params.Set("secid", secID(code))
	params.Set("fields1", "f1,f2,f3,f7")
	params.Set("fields2", "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61,f62,f63")
	params.Set("klt", "101")
	params.Set("lmt", strconv.Itoa(days))
	root, err := p.getJSON(ctx, p.cfg.APIURL, "/stock/fflow/kline/get", params)
	if err != nil {
		return models.FundFlow{}, fmt.Errorf("fund flow %s: %w", code, err)
	}

	lines := klines(root)
	if len(lines) == 0 {
		return models.FundFlow{}, fmt.Errorf("fund flow %s: %w", code, ErrNoData)
	}

	flow := models.FundFlow{Code: code, Timestamp: time.Now().Format(time.RFC3339)}
	for _, line := range lines {
		day, ok := parseFlowLine(line)
		if !ok {
			p.log.WithComponent(component).WithFields(logger.Fields{"code": code, "line": line}).Debug("skipping malformed fund flow line")
			continue
		}
		flow.Days = append(flow.Days, day)
	}

	p.mu.Lock()
	p.flows.Put(key, flow, 0)
	p.mu.Unlock()
	flow.Days = slices.Clone(flow.Days)
	return flow, nil
}

// History returns up to days daily bars for code, oldest first.
func (p *Provider) History(ctx context.Context, code string, days int) ([]models.KlineBar, error) {
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", ErrInvalidParam)
	}
	key := cache.Key("history", map[string]any{"code": code, "days": days})
	p.mu.Lock()
	cached, ok := p.history.Get(key)
	p.mu.Unlock()
	if ok {
		return slices.Clone(cached), nil
	}

	params := url.Values{}
	params.Set("secid", secID(code))
	params.Set("fields1", "f1,f2,f3,f4,f5,f6")
	params.Set("fields2", "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61")
	params.Set("klt", "101")
	params.Set("fqt", "1")
	params.Set("end", "20500101")
	params.Set("lmt", strconv.Itoa(days))
	root, err := p.getJSON(ctx, p.cfg.HistoryURL, "/stock/kline/get", params)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", code, err)
	}

	lines := klines(root)
	if len(lines) == 0 {
		return nil, fmt.Errorf("history %s: %w", code, ErrNoData)
	}
	bars := make([]models.KlineBar, 0, len(lines))
	for _, line := range lines {
		if bar, ok := parseBarLine(line); ok {
			bars = append(bars, bar)
		}
	}

	p.mu.Lock()
	p.history.Put(key, bars, 0)
	p.mu.Unlock()
	return slices.Clone(bars), nil
}

// ClearCache drops every cached lookup.
func (p *Provider) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.basic.Clear()
	p.flows.Clear()
	p.top.Clear()
	p.history.Clear()
	p.log.WithComponent(component).Info("eastmoney cache cleared")
}

// EvictStale removes stale mirror files, typically once at startup.
func (p *Provider) EvictStale() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.basic.Evict() + p.flows.Evict() + p.top.Evict() + p.history.Evict()
}

// CacheSizes reports the number of in-memory entries per cache.
func (p *Provider) CacheSizes() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int{
		"eastmoney_basic":   p.basic.Len(),
		"eastmoney_flow":    p.flows.Len(),
		"eastmoney_top":     p.top.Len(),
		"eastmoney_history": p.history.Len(),
	}
}

func (p *Provider) getJSON(ctx context.Context, base, path string, params url.Values) (*gabs.Container, error) {
	log := p.log.WithComponent(component).WithFields(logger.Fields{"path": path, "secid": params.Get("secid")})

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := strings.TrimRight(base, "/") + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, component, "api_request", time.Since(start), logger.Fields{"status": resp.StatusCode})

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	logger.IncrementFundFlowRead(len(body))

	root, err := gabs.ParseJSON(body)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return root, nil
}

func validateCode(code string) error {
	if len(code) != 6 {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
	}
	return nil
}

func validateDays(days int) error {
	if days < 1 || days > MaxDays {
		return fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidParam, MaxDays)
	}
	return nil
}

func validateLimit(limit int) error {
	if limit < 1 || limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidParam, MaxLimit)
	}
	return nil
}

// secID maps a code to Eastmoney's market.code form: 1 for Shanghai, 0 otherwise.
func secID(code string) string {
	if market, _, ok := quote.SplitSymbol(code); ok && market == string(models.MarketShanghai) {
		return "1." + code
	}
	return "0." + code
}
