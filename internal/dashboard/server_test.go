package dashboard

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"quoteflow/config"
	"quoteflow/internal/metrics"
	"quoteflow/logger"
)

func TestNormalizeAddress(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", "0.0.0.0:8080"},
		{"  :9090  ", "0.0.0.0:9090"},
		{"localhost", "localhost:8080"},
		{"[::1]:443", "[::1]:443"},
		{"::1", "[::1]:8080"},
		{"*:8080", "0.0.0.0:8080"},
		{"http://quotes.internal:8081", "quotes.internal:8081"},
		{"https://quotes.internal/", "quotes.internal:8080"},
		{"http://:7070", "0.0.0.0:7070"},
	}
	for _, tc := range cases {
		if got := normalizeAddress(tc.in); got != tc.want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: false, Address: ":9000"}, logger.Logger())
	if err != nil || srv != nil {
		t.Fatalf("expected nil server for a disabled dashboard, got %v %v", srv, err)
	}
	// nil servers are safe to use from main
	srv.RegisterCache(fakeCaches{"tencent_quotes": 1})
	if srv.Address() != "" {
		t.Fatal("nil server reported an address")
	}
}

func TestNewServerDefaults(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: true, Address: ":9000"}, logger.Logger())
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	t.Cleanup(srv.cleanup)

	if got := srv.Address(); got != "0.0.0.0:9000" {
		t.Fatalf("server address = %q, want %q", got, "0.0.0.0:9000")
	}
	if srv.refreshIntervalMs != 5000 {
		t.Fatalf("refresh interval = %dms", srv.refreshIntervalMs)
	}
	if srv.metricStore.limit != 200 || srv.logStore.limit != 200 {
		t.Fatalf("history limits = %d %d", srv.metricStore.limit, srv.logStore.limit)
	}
}

func TestCleanupStopsMetricCapture(t *testing.T) {
	srv := newTestServer(t)
	metrics.EmitMetric(nil, "quote_processor", "quotes_processed", 10, "counter", nil)
	srv.cleanup()
	metrics.EmitMetric(nil, "quote_processor", "quotes_processed", 20, "counter", nil)

	got := srv.metricStore.snapshot(metricFilter{Component: "quote_processor"})
	if len(got) != 1 || got[0].Value != 10 {
		t.Fatalf("expected only the metric emitted before cleanup, got %#v", got)
	}
}

func TestPipelineSnapshotFromServer(t *testing.T) {
	srv := newTestServer(t)
	srv.RegisterCache(fakeCaches{"tencent_quotes": 2})
	metrics.EmitMetric(nil, "quote_processor", "quotes_processed", 42, "counter", nil)
	metrics.EmitMetric(nil, "quote_writer", "quotes_written", 40, "counter", nil)

	state := srv.pipelineSnapshot()
	if state.QuotesProcessed != 42 || state.QuotesWritten != 40 {
		t.Fatalf("unexpected pipeline totals: %#v", state)
	}
	if state.CacheEntries["tencent_quotes"] != 2 {
		t.Fatalf("cache entries missing: %#v", state.CacheEntries)
	}
}

func TestResourcesEndpointIncludesPipeline(t *testing.T) {
	srv := newTestServer(t)
	srv.resourceSampler.append(resourceSnapshot{
		Timestamp: time.Unix(1700000000, 0),
		Pipeline:  pipelineState{QuotesProcessed: 7, NormBuffered: 2},
	})

	res := get(t, srv, "/api/resources")
	if res.Code != http.StatusOK {
		t.Fatalf("resources status %d", res.Code)
	}
	var body struct {
		Resources []struct {
			Pipeline pipelineState `json:"pipeline"`
		} `json:"resources"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Resources) != 1 || body.Resources[0].Pipeline.QuotesProcessed != 7 || body.Resources[0].Pipeline.NormBuffered != 2 {
		t.Fatalf("unexpected resources payload: %s", res.Body.String())
	}
}
