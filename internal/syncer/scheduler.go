// Package syncer drives the dataset synchronization control loop.
package syncer

import (
	"context"
	"os"
	"time"

	"github.com/whoswhip/anilyzer/internal/freshness"
	"github.com/whoswhip/anilyzer/internal/metrics"
	"go.uber.org/zap"
)

// MarkerFetcher fetches the remote freshness marker.
type MarkerFetcher interface {
	FetchMarker(ctx context.Context) (string, error)
}

// Installer installs the dataset snapshot identified by a marker.
type Installer interface {
	Install(ctx context.Context, remoteMarker string) error
}

// ProcessSupervisor controls the lookup serving process.
type ProcessSupervisor interface {
	Running() bool
	EnsureRunning(restart bool) error
}

// Scheduler runs the sync loop: once immediately, then on a fixed
// interval. Every failure inside a tick is logged and swallowed; the
// loop itself never terminates on error.
type Scheduler struct {
	origin      MarkerFetcher
	tracker     *freshness.Tracker
	installer   Installer
	supervisor  ProcessSupervisor
	datasetPath string
	interval    time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// New creates a new scheduler.
func New(
	origin MarkerFetcher,
	tracker *freshness.Tracker,
	installer Installer,
	supervisor ProcessSupervisor,
	datasetPath string,
	interval time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Scheduler {
	return &Scheduler{
		origin:      origin,
		tracker:     tracker,
		installer:   installer,
		supervisor:  supervisor,
		datasetPath: datasetPath,
		interval:    interval,
		logger:      logger,
		metrics:     m,
	}
}

// Run executes one tick immediately, then ticks on the configured
// interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs a single sync cycle: fetch the remote marker, install if
// it supersedes the local one, and settle the serving process.
func (s *Scheduler) Tick(ctx context.Context) {
	remote, err := s.origin.FetchMarker(ctx)
	if err != nil {
		s.logger.Warn("marker fetch failed, skipping sync cycle", zap.Error(err))
		s.metrics.RecordSyncCycle("fetch_failed")
		return
	}

	installed := false
	if s.tracker.UpdateAvailable(remote) {
		s.logger.Info("new dataset available, installing", zap.String("marker", remote))

		if err := s.installer.Install(ctx, remote); err != nil {
			s.logger.Error("dataset install failed", zap.Error(err))
			s.metrics.RecordInstall("failure")
		} else {
			installed = true
			s.metrics.RecordInstall("success")
		}
	}

	// Restart after an install; otherwise spawn only when the process
	// is down but a dataset exists. A running process with an
	// unchanged dataset is left alone.
	if installed || (!s.supervisor.Running() && s.datasetExists()) {
		if err := s.supervisor.EnsureRunning(installed); err != nil {
			s.logger.Error("failed to settle serving process", zap.Error(err))
		}
	}

	s.metrics.SetServingUp(s.supervisor.Running())

	if installed {
		s.metrics.RecordSyncCycle("installed")
	} else {
		s.metrics.RecordSyncCycle("noop")
	}
}

// datasetExists reports whether an installed dataset is present on disk.
func (s *Scheduler) datasetExists() bool {
	_, err := os.Stat(s.datasetPath)
	return err == nil
}
