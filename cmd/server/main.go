// Package main provides the entry point for the lookup server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/whoswhip/anilyzer/internal/apierrors"
	"github.com/whoswhip/anilyzer/internal/cache"
	"github.com/whoswhip/anilyzer/internal/config"
	"github.com/whoswhip/anilyzer/internal/dataset"
	"github.com/whoswhip/anilyzer/internal/handler"
	"github.com/whoswhip/anilyzer/internal/logging"
	"github.com/whoswhip/anilyzer/internal/metrics"
	"github.com/whoswhip/anilyzer/internal/ratelimit"
	"github.com/whoswhip/anilyzer/internal/server"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting lookup server",
		zap.Int("port", cfg.Server.Port),
		zap.String("dataset", cfg.Dataset.Path()),
	)

	store, err := dataset.Open(cfg.Dataset.Path(), logger)
	if err != nil {
		logger.Fatal("failed to open dataset", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cache and bucket are built here and injected; request handlers
	// share them by reference.
	lookupCache := cache.New[dataset.Series](cfg.Cache.TTL)
	lookupCache.StartSweeper(ctx, cfg.Cache.SweepInterval)

	bucket := ratelimit.NewTokenBucket(cfg.RateLimiter.Capacity, cfg.RateLimiter.TokensPerMinute)

	m := metrics.NewMetrics()

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	errorHandler := apierrors.NewHandler(logger)
	handlers := handler.NewHandlers(store, lookupCache, bucket, errorHandler, logger, m, cfg.Server.MaxBatchSize)

	httpServer := server.NewServer(cfg, handlers, errorHandler, m, logger)

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	logger.Info("lookup server shutdown complete")
}
