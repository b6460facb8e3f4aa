package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"quoteflow/internal/quote"
)

const (
	DefaultConfigPath = "config/config.yml"
	DefaultShardsPath = "config/symbol_shards.yml"
)

type Config struct {
	Quoteflow QuoteflowConfig `yaml:"quoteflow"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Processor ProcessorConfig `yaml:"processor"`
	Writer    WriterConfig    `yaml:"writer"`
	Source    SourceConfig    `yaml:"source"`
	Cache     CacheConfig     `yaml:"cache"`
	Quote     QuoteConfig     `yaml:"quote"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

type QuoteflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	ChannelSize    bool          `yaml:"channel_size"`
	ReportInterval time.Duration `yaml:"report_interval"`
	Namespace      string        `yaml:"namespace"`
}

type ChannelsConfig struct {
	RawBuffer       int `yaml:"raw_buffer"`
	ProcessedBuffer int `yaml:"processed_buffer"`
}

type ProcessorConfig struct {
	MaxWorkers   int           `yaml:"max_workers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type WriterConfig struct {
	MaxWorkers   int                `yaml:"max_workers"`
	Buffer       BufferConfig       `yaml:"buffer"`
	Partitioning PartitioningConfig `yaml:"partitioning"`
	Formats      FormatsConfig      `yaml:"formats"`
}

type BufferConfig struct {
	MaxSize       int           `yaml:"max_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type PartitioningConfig struct {
	TimeFormat string `yaml:"time_format"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
	PageSize    int    `yaml:"page_size"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type SourceConfig struct {
	Tencent   TencentSourceConfig   `yaml:"tencent"`
	Eastmoney EastmoneySourceConfig `yaml:"eastmoney"`
}

type TencentSourceConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	URL            string               `yaml:"url"`
	IntervalMs     int                  `yaml:"interval_ms"`
	Timeout        time.Duration        `yaml:"timeout"`
	Symbols        []string             `yaml:"symbols"`
	BatchSize      int                  `yaml:"batch_size"`
	CacheTTL       time.Duration        `yaml:"cache_ttl"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type EastmoneySourceConfig struct {
	Enabled         bool                 `yaml:"enabled"`
	APIURL          string               `yaml:"api_url"`
	HistoryURL      string               `yaml:"history_url"`
	Timeout         time.Duration        `yaml:"timeout"`
	TopFundFlowTTL  time.Duration        `yaml:"top_fund_flow_ttl"`
	CandidatePool   int                  `yaml:"candidate_pool"`
	AnalyzedSymbols int                  `yaml:"analyzed_symbols"`
	RateLimit       RateLimitConfig      `yaml:"rate_limit"`
	ConnectionPool  ConnectionPoolConfig `yaml:"connection_pool"`
}

type CacheConfig struct {
	Dir          string        `yaml:"dir"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	EvictOnStart bool          `yaml:"evict_on_start"`
}

// QuoteConfig overrides the built-in quote layouts when Layouts is non-empty.
type QuoteConfig struct {
	Layouts []quote.Layout `yaml:"layouts"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("QUOTEFLOW_CACHE_DIR"); v != "" {
		config.Cache.Dir = strings.TrimSpace(v)
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func defaultConfig() Config {
	return Config{
		Metrics: MetricsConfig{
			ChannelSize:    true,
			ReportInterval: 30 * time.Second,
		},
		Source: SourceConfig{
			Tencent: TencentSourceConfig{
				URL:       "https://qt.gtimg.cn/q=",
				Timeout:   10 * time.Second,
				BatchSize: 50,
				CacheTTL:  5 * time.Second,
				RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 5},
			},
			Eastmoney: EastmoneySourceConfig{
				APIURL:          "https://push2.eastmoney.com/api/qt",
				HistoryURL:      "https://push2his.eastmoney.com/api/qt",
				Timeout:         10 * time.Second,
				TopFundFlowTTL:  600 * time.Second,
				CandidatePool:   100,
				AnalyzedSymbols: 50,
				RateLimit:       RateLimitConfig{RequestsPerSecond: 10, BurstSize: 10},
			},
		},
		Cache: CacheConfig{
			DefaultTTL: 300 * time.Second,
		},
		Dashboard: DashboardConfig{
			Address:         ":8080",
			RefreshInterval: 5 * time.Second,
			LogHistory:      500,
			MetricsHistory:  200,
		},
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Quoteflow.Name == "" {
		return fmt.Errorf("quoteflow.name is required")
	}
	if cfg.Quoteflow.Version == "" {
		return fmt.Errorf("quoteflow.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.ProcessedBuffer <= 0 {
		return fmt.Errorf("channels.processed_buffer must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}
	if cfg.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size must be greater than 0")
	}
	if cfg.Processor.BatchTimeout <= 0 {
		return fmt.Errorf("processor.batch_timeout must be greater than 0")
	}

	if cfg.Writer.Buffer.FlushInterval <= 0 {
		return fmt.Errorf("writer.buffer.flush_interval must be greater than 0")
	}

	if t := cfg.Source.Tencent; t.Enabled {
		if t.URL == "" {
			return fmt.Errorf("source.tencent.url is required when tencent is enabled")
		}
		if t.IntervalMs <= 0 {
			return fmt.Errorf("source.tencent.interval_ms must be greater than 0")
		}
		if t.BatchSize <= 0 {
			return fmt.Errorf("source.tencent.batch_size must be greater than 0")
		}
	}
	if e := cfg.Source.Eastmoney; e.Enabled {
		if e.APIURL == "" || e.HistoryURL == "" {
			return fmt.Errorf("source.eastmoney.api_url and history_url are required when eastmoney is enabled")
		}
		if e.AnalyzedSymbols > e.CandidatePool {
			return fmt.Errorf("source.eastmoney.analyzed_symbols must not exceed candidate_pool")
		}
	}

	if cfg.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache.default_ttl must be greater than 0")
	}

	if len(cfg.Quote.Layouts) > 0 {
		if _, err := quote.NewParser(cfg.Quote.Layouts...); err != nil {
			return fmt.Errorf("quote.layouts: %w", err)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

// Parser builds the quote parser for the configured layouts.
func (c *Config) Parser() (*quote.Parser, error) {
	return quote.NewParser(c.Quote.Layouts...)
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
