package tencent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"

	"quoteflow/config"
	"quoteflow/internal/channel"
	"quoteflow/models"
)

func segment(market, code, name, price string) string {
	fields := make([]string, 40)
	fields[0] = "1"
	fields[1] = name
	fields[2] = code
	fields[3] = price
	fields[4] = "10.00"
	fields[5] = "10.00"
	fields[6] = "1000"
	fields[30] = "20250912161403"
	fields[31] = "0.50"
	fields[32] = "5.00"
	fields[33] = "10.80"
	fields[34] = "9.90"
	fields[37] = "105.5"
	return fmt.Sprintf("v_%s%s=\"%s\";\n", market, code, strings.Join(fields, "~"))
}

type fakeQuotes struct {
	hits   atomic.Int32
	status int
	paths  chan string
}

func (f *fakeQuotes) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	select {
	case f.paths <- r.URL.Path:
	default:
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	body := segment("sh", "600519", "贵州茅台", "10.50") + segment("sz", "000001", "平安银行", "11.00")
	encoded, err := simplifiedchinese.GBK.NewEncoder().String(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=GBK")
	fmt.Fprint(w, encoded)
}

func newTestReader(t *testing.T, up *fakeQuotes, symbols []string, ch *channel.Channels) *Reader {
	t.Helper()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)
	cfg := &config.Config{
		Source: config.SourceConfig{Tencent: config.TencentSourceConfig{
			Enabled:    true,
			URL:        srv.URL + "/q=",
			IntervalMs: 20,
			Timeout:    2 * time.Second,
			BatchSize:  50,
			CacheTTL:   time.Minute,
			RateLimit:  config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 100},
		}},
		Cache: config.CacheConfig{DefaultTTL: time.Minute},
	}
	return NewReader(cfg, ch, symbols, "", nil)
}

func TestFetchQuotes(t *testing.T) {
	up := &fakeQuotes{paths: make(chan string, 4)}
	r := newTestReader(t, up, nil, nil)

	quotes, err := r.FetchQuotes(context.Background(), []string{"600519", "SZ000001", "600519"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path := <-up.paths; path != "/q=sh600519,sz000001" {
		t.Fatalf("unexpected request path %q", path)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	if quotes[0].Name != "贵州茅台" || quotes[0].Market != models.MarketShanghai || quotes[0].CurrentPrice != 10.50 {
		t.Fatalf("unexpected first quote %+v", quotes[0])
	}
	if quotes[1].Name != "平安银行" || quotes[1].Code() != "sz000001" {
		t.Fatalf("unexpected second quote %+v", quotes[1])
	}

	if _, err := r.FetchQuotes(context.Background(), []string{"sz000001", "sh600519"}); err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if n := up.hits.Load(); n != 1 {
		t.Fatalf("expected one upstream call for the same symbol set, got %d", n)
	}
	if r.CacheLen() != 1 {
		t.Fatalf("expected one cache entry, got %d", r.CacheLen())
	}

	r.ClearCache()
	if r.CacheLen() != 0 {
		t.Fatalf("expected empty cache after clear")
	}
}

func TestFetchQuote(t *testing.T) {
	up := &fakeQuotes{paths: make(chan string, 4)}
	r := newTestReader(t, up, nil, nil)

	q, err := r.FetchQuote(context.Background(), "000001")
	if err != nil {
		t.Fatalf("fetch quote: %v", err)
	}
	if q.Symbol != "000001" || q.CurrentPrice != 11.00 {
		t.Fatalf("unexpected quote %+v", q)
	}

	if _, err := r.FetchQuote(context.Background(), "600000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchQuotesStatusError(t *testing.T) {
	up := &fakeQuotes{status: http.StatusBadGateway, paths: make(chan string, 4)}
	r := newTestReader(t, up, nil, nil)
	if _, err := r.FetchQuotes(context.Background(), []string{"600519"}); err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
	if r.CacheLen() != 0 {
		t.Fatalf("failed fetch must not be cached")
	}
}

func TestFetchQuotesEmpty(t *testing.T) {
	up := &fakeQuotes{paths: make(chan string, 4)}
	r := newTestReader(t, up, nil, nil)
	quotes, err := r.FetchQuotes(context.Background(), nil)
	if err != nil || quotes == nil || len(quotes) != 0 {
		t.Fatalf("expected empty non-nil result, got %v %v", quotes, err)
	}
	if up.hits.Load() != 0 {
		t.Fatalf("empty request reached upstream")
	}
}

func TestReaderStartStop(t *testing.T) {
	up := &fakeQuotes{paths: make(chan string, 4)}
	ch := channel.NewChannels(4, 4)
	r := newTestReader(t, up, []string{"600519", "000001"}, ch)

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}

	select {
	case msg := <-ch.Raw:
		if msg.Source != "tencent" || !reflect.DeepEqual(msg.Symbols, []string{"sh600519", "sz000001"}) {
			t.Fatalf("unexpected message %+v", msg)
		}
		if !strings.Contains(msg.Data, "贵州茅台") {
			t.Fatalf("payload not decoded: %q", msg.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
	}

	cancel()
	r.Stop()
}

func TestReaderStartRequiresSymbols(t *testing.T) {
	up := &fakeQuotes{paths: make(chan string, 4)}
	r := newTestReader(t, up, nil, channel.NewChannels(1, 1))
	if err := r.Start(context.Background()); err == nil {
		t.Fatalf("expected error without symbols")
	}
}

func TestReaderStartDisabled(t *testing.T) {
	up := &fakeQuotes{paths: make(chan string, 4)}
	r := newTestReader(t, up, []string{"600519"}, channel.NewChannels(1, 1))
	r.config.Source.Tencent.Enabled = false
	if err := r.Start(context.Background()); err == nil {
		t.Fatalf("expected error when disabled")
	}
}

func TestBatchSymbols(t *testing.T) {
	symbols := []string{"a", "b", "c", "d", "e"}
	cases := []struct {
		size int
		want [][]string
	}{
		{2, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}},
		{5, [][]string{{"a", "b", "c", "d", "e"}}},
		{0, [][]string{{"a", "b", "c", "d", "e"}}},
	}
	for _, tc := range cases {
		if got := batchSymbols(symbols, tc.size); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("size %d: got %v, want %v", tc.size, got, tc.want)
		}
	}
}

func TestFetchQuotesReturnsCopy(t *testing.T) {
	up := &fakeQuotes{paths: make(chan string, 4)}
	r := newTestReader(t, up, nil, nil)
	ctx := context.Background()

	first, err := r.FetchQuotes(ctx, []string{"600519", "000001"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	first[0].CurrentPrice = -1

	second, err := r.FetchQuotes(ctx, []string{"600519", "000001"})
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if second[0].CurrentPrice != 10.50 {
		t.Fatalf("caller mutation leaked into the cache: %+v", second[0])
	}
	second[1].Name = "changed"

	third, _ := r.FetchQuotes(ctx, []string{"600519", "000001"})
	if third[1].Name != "平安银行" {
		t.Fatalf("cached hit mutation leaked into the cache: %+v", third[1])
	}
	if n := up.hits.Load(); n != 1 {
		t.Fatalf("expected one upstream request, got %d", n)
	}
}
