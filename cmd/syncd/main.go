// Package main provides the entry point for the dataset sync daemon.
// It keeps the local dataset fresh and supervises the lookup server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/whoswhip/anilyzer/internal/config"
	"github.com/whoswhip/anilyzer/internal/freshness"
	"github.com/whoswhip/anilyzer/internal/installer"
	"github.com/whoswhip/anilyzer/internal/logging"
	"github.com/whoswhip/anilyzer/internal/metrics"
	"github.com/whoswhip/anilyzer/internal/origin"
	"github.com/whoswhip/anilyzer/internal/supervisor"
	"github.com/whoswhip/anilyzer/internal/syncer"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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

	logger.Info("starting sync daemon",
		zap.String("marker_url", cfg.Origin.MarkerURL),
		zap.String("dataset", cfg.Dataset.Path()),
		zap.Duration("interval", cfg.Sync.Interval),
	)

	m := metrics.NewMetrics()

	originClient := origin.NewClient(cfg.Origin, logger)
	tracker := freshness.NewTracker(cfg.Dataset.MarkerPath(), logger)
	inst := installer.New(originClient, tracker, cfg.Dataset, logger)
	sup := supervisor.New(cfg.Sync.ServerBinary, cfg.Server.Port, logger)

	scheduler := syncer.New(
		originClient,
		tracker,
		inst,
		sup,
		cfg.Dataset.Path(),
		cfg.Sync.Interval,
		logger,
		m,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler.Run(gctx)
		return nil
	})

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.SyncPort, cfg.Metrics.Path, logger)
		g.Go(func() error {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server error", zap.Error(err))
			}
			return nil
		})
	}

	<-gctx.Done()
	logger.Info("initiating shutdown")

	if err := sup.Stop(); err != nil {
		logger.Error("failed to stop serving process", zap.Error(err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}

	if err := g.Wait(); err != nil {
		logger.Error("daemon error", zap.Error(err))
	}

	logger.Info("sync daemon shutdown complete")
}
