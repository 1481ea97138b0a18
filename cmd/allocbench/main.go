package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	go_pooled_bytebuf "github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/config"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/metrics"
	"github.com/datnguyenzzz/nogodb/lib/go-pooled-bytebuf/storage"
)

var (
	configFile = flag.String("config", os.Getenv("BYTEBUF_CONFIG_FILE"), "Path to configuration file")
	duration   = flag.Duration("duration", 0, "Overrides bench.duration, 0 keeps the configured value")
	logLevel   = flag.String("log-level", "", "Overrides logging.level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "allocbench: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewLoader().Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *duration > 0 {
		cfg.Bench.Duration = *duration
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	alloc, err := go_pooled_bytebuf.NewAllocator(cfg.Allocator.Options()...)
	if err != nil {
		return err
	}
	storageOpts, err := cfg.Storage.Options()
	if err != nil {
		return err
	}
	store, err := storage.New(alloc, storageOpts...)
	if err != nil {
		return err
	}

	logger.Info("Starting allocbench",
		zap.Int("arenas", alloc.NumArenas()),
		zap.Int("pageSize", alloc.PageSize()),
		zap.Int("chunkSize", alloc.ChunkSize()),
		zap.Int("workers", cfg.Bench.Workers),
		zap.Duration("duration", cfg.Bench.Duration),
		zap.String("compression", cfg.Storage.Compression),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Bench.Duration)
	defer cancel()

	var server *http.Server
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			metrics.NewCollector(alloc, cfg.Metrics.Namespace),
			collectors.NewGoCollector(),
		)
		server = startMetricsServer(cfg.Metrics.Address, registry, logger)
	}

	start := time.Now()
	results := make([]workerResult, cfg.Bench.Workers)
	eg, egCtx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Bench.Workers; w++ {
		eg.Go(func() error {
			res, err := runWorker(egCtx, w, alloc, store, cfg.Bench)
			results[w] = res
			return err
		})
	}
	benchErr := eg.Wait()
	elapsed := time.Since(start)

	if err := store.Destroy(); err != nil {
		logger.Error("Failed to destroy storage", zap.Error(err))
	}

	var total workerResult
	for _, res := range results {
		total.add(res)
	}
	logger.Info("Bench finished",
		zap.Duration("elapsed", elapsed),
		zap.Int64("allocations", total.allocations),
		zap.Int64("bytes", total.bytes),
		zap.Int64("storageOps", total.storageOps),
		zap.Float64("allocationsPerSec", float64(total.allocations)/elapsed.Seconds()),
	)
	logStats(logger, alloc.Stats())

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}

	if benchErr != nil && !errors.Is(benchErr, context.Canceled) && !errors.Is(benchErr, context.DeadlineExceeded) {
		return benchErr
	}
	return nil
}

func startMetricsServer(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting metrics server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return server
}

func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := cfg.ZapLevel()
	if err != nil {
		return nil, err
	}

	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func logStats(logger *zap.Logger, stats go_pooled_bytebuf.Stats) {
	for _, a := range stats.Arenas {
		logger.Info("Arena stats",
			zap.Int("arena", a.ID),
			zap.Int("chunks", a.NumChunks()),
			zap.Int64("chunksCreated", a.ChunksCreated),
			zap.Int64("chunksDestroyed", a.ChunksDestroyed),
			zap.Int64("allocations", a.NumAllocations()),
			zap.Int64("deallocations", a.NumDeallocations()),
			zap.Int64("activeHugeBytes", a.ActiveBytesHuge),
		)
	}
	logger.Info("Allocator stats",
		zap.Int64("unpooledAllocations", stats.UnpooledAllocations),
		zap.Int64("sourceInUse", stats.SourceInUse),
	)
}
