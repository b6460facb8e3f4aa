package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestWarnCountsByComponent(t *testing.T) {
	before := Counters()
	log := Logger()
	log.SetOutput(io.Discard)
	log.WithComponent("tencent_reader").Warn("slow upstream")
	log.WithComponent("eastmoney_reader").Error("bad payload")
	log.WithComponent("dashboard").Warn("ignored")

	after := Counters()
	if after["warns_quote"]-before["warns_quote"] != 1 {
		t.Fatalf("expected one quote warning, got %d", after["warns_quote"]-before["warns_quote"])
	}
	if after["errors_flow"]-before["errors_flow"] != 1 {
		t.Fatalf("expected one fund flow error, got %d", after["errors_flow"]-before["errors_flow"])
	}
}

func TestCacheCounters(t *testing.T) {
	before := Counters()
	IncrementCacheHit()
	IncrementCacheHit()
	IncrementCacheMiss()
	after := Counters()
	if after["cache_hits"]-before["cache_hits"] != 2 || after["cache_misses"]-before["cache_misses"] != 1 {
		t.Fatalf("unexpected cache counters: %v", after)
	}
}

func TestMetricName(t *testing.T) {
	if got := metricName("s3_writes"); got != "S3Writes" {
		t.Fatalf("metricName = %q", got)
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "logs", "quoteflow.log")

	log := Logger()
	if err := log.Configure("debug", "text", path, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	log.WithComponent("test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log file missing message: %s", data)
	}
}

func TestCallerSkipsWrappers(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	log.WithComponent("tencent_reader").WithFields(Fields{"symbols": 2}).Info("polled")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v\n%s", err, buf.String())
	}
	file, _ := line["file"].(string)
	if !strings.HasPrefix(file, "logger_test.go:") {
		t.Fatalf("caller should be the test, got %q", file)
	}
}

func TestIsWrapper(t *testing.T) {
	cases := []struct {
		frame runtime.Frame
		want  bool
	}{
		{runtime.Frame{Function: "github.com/sirupsen/logrus.(*Entry).Info", File: "entry.go"}, true},
		{runtime.Frame{Function: "quoteflow/logger.(*Entry).Warn", File: "logger.go"}, true},
		{runtime.Frame{Function: "quoteflow/internal/metrics.EmitMetric", File: "emit.go"}, true},
		{runtime.Frame{Function: "quoteflow/internal/metrics.TestEmit", File: "metrics_handler_test.go"}, false},
		{runtime.Frame{Function: "quoteflow/reader/tencent.(*Reader).poll", File: "reader.go"}, false},
		{runtime.Frame{Function: "quoteflow/loggerx.Do", File: "x.go"}, false},
	}
	for _, tc := range cases {
		if got := isWrapper(tc.frame); got != tc.want {
			t.Fatalf("isWrapper(%s) = %v, want %v", tc.frame.Function, got, tc.want)
		}
	}
}
