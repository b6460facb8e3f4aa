package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `quoteflow:
  name: "TestApp"
  version: "1.0"
channels:
  raw_buffer: 1
  processed_buffer: 1
processor:
  max_workers: 1
  batch_size: 1
  batch_timeout: 1s
writer:
  buffer:
    flush_interval: 1s
storage:
  s3:
    enabled: false
`

// writeTempConfig writes content to a temporary file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Quoteflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Quoteflow.Name)
	}
	if cfg.Processor.BatchTimeout != time.Second {
		t.Errorf("unexpected batch timeout: %s", cfg.Processor.BatchTimeout)
	}
	if cfg.Cache.DefaultTTL != 300*time.Second {
		t.Errorf("expected default cache ttl, got %s", cfg.Cache.DefaultTTL)
	}
	if cfg.Source.Eastmoney.TopFundFlowTTL != 600*time.Second {
		t.Errorf("expected default top fund flow ttl, got %s", cfg.Source.Eastmoney.TopFundFlowTTL)
	}
	if cfg.Source.Tencent.URL != "https://qt.gtimg.cn/q=" {
		t.Errorf("unexpected tencent url: %s", cfg.Source.Tencent.URL)
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	content := strings.Replace(minimalConfig, `name: "TestApp"`, `name: ""`, 1)
	if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadConfigTencentRequiresInterval(t *testing.T) {
	content := minimalConfig + `source:
  tencent:
    enabled: true
    interval_ms: 0
`
	_, err := LoadConfig(writeTempConfig(t, content))
	if err == nil || !strings.Contains(err.Error(), "interval_ms") {
		t.Fatalf("expected interval_ms error, got %v", err)
	}
}

func TestLoadConfigLayouts(t *testing.T) {
	content := minimalConfig + `quote:
  layouts:
    - name: final
      min_fields: 33
      status: 0
      stock_name: 1
      symbol: 2
      current: 3
      previous_close: 4
      open: 5
      volume: 6
      time: 30
      change: 31
      change_percent: 32
`
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	p, err := cfg.Parser()
	if err != nil {
		t.Fatalf("Parser: %v", err)
	}
	layouts := p.Layouts()
	if len(layouts) != 1 || layouts[0].High != -1 || layouts[0].Amount != -1 {
		t.Fatalf("unexpected layouts: %+v", layouts)
	}
}

func TestLoadConfigRejectsBadLayout(t *testing.T) {
	content := minimalConfig + `quote:
  layouts:
    - name: broken
      min_fields: 0
      current: 3
      previous_close: 4
`
	if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
		t.Fatalf("expected layout validation error")
	}
}

func TestLoadConfigS3EnvOverride(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_REGION", "ap-east-1")
	t.Setenv("S3_BUCKET", "quote-snapshots")

	content := strings.Replace(minimalConfig, "enabled: false", "enabled: true", 1)
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.S3.Bucket != "quote-snapshots" || cfg.Storage.S3.Region != "ap-east-1" {
		t.Fatalf("env overrides not applied: %+v", cfg.Storage.S3)
	}
}

func TestLoadConfigInvalidBucket(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_REGION", "ap-east-1")
	t.Setenv("S3_BUCKET", "Bad_Bucket")

	content := strings.Replace(minimalConfig, "enabled: false", "enabled: true", 1)
	if _, err := LoadConfig(writeTempConfig(t, content)); err == nil {
		t.Fatalf("expected invalid bucket error")
	}
}

func TestLoadSymbolShards(t *testing.T) {
	content := `shards:
- ip: "10.0.0.2"
  symbols: ["600519", "000001"]
- symbols: ["sz300750", "600519"]
`
	shards, err := LoadSymbolShards(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadSymbolShards failed: %v", err)
	}
	if len(shards.Shards) != 2 || shards.Shards[0].IP != "10.0.0.2" {
		t.Fatalf("unexpected shards: %+v", shards)
	}
	if got := shards.Symbols(); len(got) != 3 {
		t.Fatalf("expected 3 unique symbols, got %v", got)
	}
}

func TestLoadSymbolShardsEmpty(t *testing.T) {
	content := "shards:\n- ip: \"10.0.0.2\"\n"
	if _, err := LoadSymbolShards(writeTempConfig(t, content)); err == nil {
		t.Fatalf("expected error for shard without symbols")
	}
}

func TestCurrentEnvironment(t *testing.T) {
	cases := map[string]Environment{
		"":        Development,
		"dev":     Development,
		" PROD ":  Production,
		"stage":   Staging,
		"staging": Staging,
		"qa":      Environment("qa"),
	}
	for raw, want := range cases {
		t.Setenv("APP_ENV", raw)
		if got := CurrentEnvironment(); got != want {
			t.Fatalf("APP_ENV=%q: got %q, want %q", raw, got, want)
		}
	}

	if !Production.Deployed() || !Staging.Deployed() || Development.Deployed() || Environment("qa").Deployed() {
		t.Fatalf("unexpected Deployed results")
	}
}

func TestResolvePaths(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := ResolvePath(DefaultConfigPath); got != "config/config.production.yml" {
		t.Fatalf("ResolvePath = %s", got)
	}
	if got := ResolveShardsPath(""); got != "config/symbol_shards.production.yml" {
		t.Fatalf("ResolveShardsPath = %s", got)
	}
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Fatalf("explicit paths must be kept, got %s", got)
	}

	t.Setenv("APP_ENV", "qa")
	if got := ResolvePath(""); got != DefaultConfigPath {
		t.Fatalf("undeployed environments use the default file, got %s", got)
	}

	t.Setenv("APP_ENV", "")
	if got := ResolveShardsPath(DefaultShardsPath); got != DefaultShardsPath {
		t.Fatalf("ResolveShardsPath = %s", got)
	}
}
