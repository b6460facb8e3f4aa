package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quoteflow/config"
	"quoteflow/internal/channel"
	"quoteflow/internal/dashboard"
	"quoteflow/internal/metrics"
	"quoteflow/internal/quote"
	"quoteflow/logger"
	"quoteflow/processor"
	"quoteflow/reader/eastmoney"
	"quoteflow/reader/tencent"
	"quoteflow/writer"
)

const usage = `usage: quoteflow [flags] [command] [args]

commands:
  run                          poll quotes and write snapshots (default)
  quote <code>...              print realtime quotes
  info <code>                  print eastmoney basic info
  flow <code> [-days N]        print daily fund flow
  top [-days N] [-limit N]     print the top fund flow ranking
  history <code> [-days N]     print daily bars
  details <code>               print quote, indicators and analysis
  clear-cache                  remove cached lookups
`

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	shardPath := flag.String("shards", config.DefaultShardsPath, "Path to symbol shard configuration file")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	metrics.Configure(cfg.Metrics)

	parser, err := cfg.Parser()
	if err != nil {
		log.WithError(err).Error("Failed to build quote parser")
		os.Exit(1)
	}

	args := flag.Args()
	cmd := "run"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	if cmd == "run" {
		if err := run(cfg, parser, config.ResolveShardsPath(*shardPath)); err != nil {
			log.WithError(err).Error("quoteflow stopped with error")
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := lookup(ctx, cfg, parser, cmd, args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, parser *quote.Parser, shardPath string) error {
	log := logger.GetLogger()
	log.WithFields(logger.Fields{
		"service":     cfg.Quoteflow.Name,
		"version":     cfg.Quoteflow.Version,
		"environment": config.CurrentEnvironment(),
	}).Info("starting quoteflow")

	// Readers, processor and writer get their own contexts so shutdown can
	// drain the pipeline stage by stage.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	readerCtx, cancelReaders := context.WithCancel(ctx)
	defer cancelReaders()
	processorCtx, cancelProcessor := context.WithCancel(ctx)
	defer cancelProcessor()
	writerCtx, cancelWriter := context.WithCancel(ctx)
	defer cancelWriter()

	if cfg.Metrics.Namespace != "" || config.CurrentEnvironment().Deployed() {
		logger.InitCloudWatch(cfg.Storage.S3.Region, cfg.Metrics.Namespace, cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	channels := channel.NewChannels(cfg.Channels.RawBuffer, cfg.Channels.ProcessedBuffer)
	defer channels.Close()
	channels.StartMetricsReporting(ctx, cfg.Metrics.ReportInterval)
	metrics.StartChannelSizeMetrics(ctx, channels, cfg.Metrics.ReportInterval)

	readers, err := buildReaders(cfg, channels, parser, shardPath)
	if err != nil {
		return err
	}

	var provider *eastmoney.Provider
	if cfg.Source.Eastmoney.Enabled {
		provider = eastmoney.NewProvider(cfg, "")
	}

	if cfg.Cache.EvictOnStart {
		evicted := 0
		for _, r := range readers {
			evicted += r.EvictStale()
		}
		if provider != nil {
			evicted += provider.EvictStale()
		}
		log.WithFields(logger.Fields{"evicted": evicted}).Info("stale cache entries evicted")
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, log)
	if err != nil {
		return fmt.Errorf("create dashboard: %w", err)
	}
	for _, r := range readers {
		dash.RegisterCache(r)
	}
	if provider != nil {
		dash.RegisterCache(provider)
	}
	dashDone := make(chan struct{})
	go func() {
		defer close(dashDone)
		if err := dash.Run(ctx, cfg.Quoteflow.Name); err != nil {
			log.WithError(err).Error("dashboard stopped")
		}
	}()

	quoteProcessor := processor.NewQuoteProcessor(cfg, channels, parser)

	var quoteWriter *writer.QuoteWriter
	if cfg.Storage.S3.Enabled {
		quoteWriter, err = writer.NewQuoteWriter(cfg, channels)
		if err != nil {
			return fmt.Errorf("create S3 writer: %w", err)
		}
		if err := quoteWriter.Start(writerCtx); err != nil {
			return err
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; parsed batches are logged and discarded")
		go discardBatches(writerCtx, channels)
	}

	if err := quoteProcessor.Start(processorCtx); err != nil {
		return err
	}

	started := 0
	for _, r := range readers {
		if err := r.Start(readerCtx); err != nil {
			log.WithError(err).Warn("tencent reader failed to start")
			continue
		}
		started++
	}
	log.WithFields(logger.Fields{"readers": started, "shards": len(readers)}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	done := make(chan struct{})
	go func() {
		defer close(done)

		cancelReaders()
		log.Info("stopping tencent readers")
		for _, r := range readers {
			r.Stop()
		}

		cancelProcessor()
		log.Info("stopping quote processor")
		quoteProcessor.Stop()

		cancelWriter()
		if quoteWriter != nil {
			log.Info("stopping S3 writer")
			quoteWriter.Stop()
		}

		cancel()
		<-dashDone
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("quoteflow stopped")
	return nil
}

// buildReaders creates one reader per shard. Without a shard file a single
// reader polls source.tencent.symbols from the default address.
func buildReaders(cfg *config.Config, channels *channel.Channels, parser *quote.Parser, shardPath string) ([]*tencent.Reader, error) {
	log := logger.GetLogger().WithComponent("main")

	shards, err := config.LoadSymbolShards(shardPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load shard configuration: %w", err)
		}
		log.WithFields(logger.Fields{"path": shardPath}).Info("no shard file, using configured symbols")
		shards = &config.SymbolShards{Shards: []config.SymbolShard{{Symbols: cfg.Source.Tencent.Symbols}}}
	}

	readers := make([]*tencent.Reader, 0, len(shards.Shards))
	for _, shard := range shards.Shards {
		readers = append(readers, tencent.NewReader(cfg, channels, shard.Symbols, shard.IP, parser))
	}
	return readers, nil
}

func discardBatches(ctx context.Context, channels *channel.Channels) {
	log := logger.GetLogger().WithComponent("main")
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-channels.Norm:
			if !ok {
				return
			}
			logger.LogDataFlowEntry(log, "norm_channel", "discard", batch.RecordCount, "quotes")
		}
	}
}
