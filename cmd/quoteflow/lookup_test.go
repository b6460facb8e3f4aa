package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quoteflow/config"
	"quoteflow/internal/quote"
)

func testConfig(t *testing.T, quoteURL, apiURL string) *config.Config {
	t.Helper()
	return &config.Config{
		Source: config.SourceConfig{
			Tencent: config.TencentSourceConfig{
				URL:       quoteURL,
				Timeout:   2 * time.Second,
				CacheTTL:  time.Minute,
				RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 10},
			},
			Eastmoney: config.EastmoneySourceConfig{
				APIURL:     apiURL,
				HistoryURL: apiURL,
				Timeout:    2 * time.Second,
				RateLimit:  config.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 10},
			},
		},
		Cache: config.CacheConfig{Dir: t.TempDir(), DefaultTTL: time.Minute},
	}
}

func TestLookupQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields := make([]string, 40)
		fields[1], fields[2], fields[3], fields[4] = "ABC", "600519", "10.50", "10.00"
		fmt.Fprintf(w, `v_sh600519="%s";`, strings.Join(fields, "~"))
	}))
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/q=", srv.URL)
	var out bytes.Buffer
	if err := lookup(context.Background(), cfg, quote.DefaultParser, "quote", []string{"600519"}, &out); err != nil {
		t.Fatalf("lookup: %v", err)
	}

	var quotes []map[string]any
	if err := json.Unmarshal(out.Bytes(), &quotes); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	if len(quotes) != 1 || quotes[0]["symbol"] != "600519" || quotes[0]["current_price"] != 10.5 {
		t.Fatalf("unexpected output %s", out.String())
	}
}

func TestLookupValidation(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/q=", "http://127.0.0.1:1")
	cases := map[string][]string{
		"quote":   nil,
		"info":    nil,
		"flow":    {"600519", "000001"},
		"details": nil,
		"bogus":   nil,
	}
	for cmd, args := range cases {
		if err := lookup(context.Background(), cfg, quote.DefaultParser, cmd, args, &bytes.Buffer{}); err == nil {
			t.Fatalf("%s %v: expected error", cmd, args)
		}
	}
}

func TestLookupClearCache(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/q=", "http://127.0.0.1:1")
	var out bytes.Buffer
	if err := lookup(context.Background(), cfg, quote.DefaultParser, "clear-cache", nil, &out); err != nil {
		t.Fatalf("clear-cache: %v", err)
	}
	if !strings.Contains(out.String(), "cleared") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestLookupFlagsAfterCode(t *testing.T) {
	var (
		mu    sync.Mutex
		limit string
		secid string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		limit, secid = r.URL.Query().Get("lmt"), r.URL.Query().Get("secid")
		mu.Unlock()
		fmt.Fprint(w, `{"data":{"klines":["2024-01-02,1000000,-300000,-200000,400000,600000"]}}`)
	}))
	defer srv.Close()

	cfg := testConfig(t, "http://127.0.0.1:1/q=", srv.URL)
	var out bytes.Buffer
	if err := lookup(context.Background(), cfg, quote.DefaultParser, "flow", []string{"600519", "-days", "3"}, &out); err != nil {
		t.Fatalf("flow with trailing flag: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if limit != "3" || secid != "1.600519" {
		t.Fatalf("upstream saw lmt=%q secid=%q", limit, secid)
	}
	if !strings.Contains(out.String(), "600519") {
		t.Fatalf("unexpected output %s", out.String())
	}
}

func TestParseInterspersed(t *testing.T) {
	cases := []struct {
		args []string
		want []string
		days int
	}{
		{[]string{"600519"}, []string{"600519"}, 5},
		{[]string{"-days", "7", "600519"}, []string{"600519"}, 7},
		{[]string{"600519", "-days", "3"}, []string{"600519"}, 3},
		{[]string{"600519", "-days=2", "000001"}, []string{"600519", "000001"}, 2},
		{[]string{"600519", "--", "-days", "9"}, []string{"600519", "-days", "9"}, 5},
	}
	for _, tc := range cases {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		days := fs.Int("days", 5, "")
		got, err := parseInterspersed(fs, tc.args)
		if err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		if strings.Join(got, ",") != strings.Join(tc.want, ",") || *days != tc.days {
			t.Fatalf("%v: got %v days=%d, want %v days=%d", tc.args, got, *days, tc.want, tc.days)
		}
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Int("days", 5, "")
	if _, err := parseInterspersed(fs, []string{"600519", "-days", "x"}); err == nil {
		t.Fatal("expected error for a bad flag value")
	}
}
