// Package installer downloads, decompresses, and installs a dataset
// snapshot, then rebuilds the structures the lookup path depends on.
package installer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/whoswhip/anilyzer/internal/config"
	"github.com/whoswhip/anilyzer/internal/dataset"
	"github.com/whoswhip/anilyzer/internal/freshness"
	"github.com/whoswhip/anilyzer/internal/origin"
	"go.uber.org/zap"
)

// Installer replaces the installed dataset with a freshly downloaded
// snapshot. Every step is a failure point that aborts the remaining
// steps and leaves the previous dataset and marker authoritative.
type Installer struct {
	origin  *origin.Client
	tracker *freshness.Tracker
	layout  config.DatasetConfig
	logger  *zap.Logger
}

// New creates a new installer.
func New(originClient *origin.Client, tracker *freshness.Tracker, layout config.DatasetConfig, logger *zap.Logger) *Installer {
	return &Installer{
		origin:  originClient,
		tracker: tracker,
		layout:  layout,
		logger:  logger,
	}
}

// Install runs the full install pipeline for the snapshot identified
// by remoteMarker:
//
//  1. ensure the dataset directory exists
//  2. stream-download the archive to a temporary path inside it
//  3. decompress the archive over the dataset file
//  4. delete the temporary archive
//  5. commit the freshness marker
//  6. rebuild lookup indexes
//
// The marker is committed only once the dataset is usable, so a crash
// mid-install never advances it.
func (i *Installer) Install(ctx context.Context, remoteMarker string) error {
	if err := os.MkdirAll(i.layout.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}

	archivePath := i.layout.ArchivePath()
	if err := i.origin.DownloadArchive(ctx, archivePath); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	err := decompress(archivePath, i.layout.Path())

	// The archive is ephemeral: remove it whether or not the
	// decompression succeeded.
	if rmErr := os.Remove(archivePath); rmErr != nil {
		i.logger.Warn("failed to remove archive", zap.Error(rmErr))
	}

	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	if err := i.tracker.Commit(remoteMarker); err != nil {
		return fmt.Errorf("failed to persist marker: %w", err)
	}

	if err := dataset.Prepare(ctx, i.layout.Path(), i.logger); err != nil {
		return fmt.Errorf("index rebuild failed: %w", err)
	}

	i.logger.Info("dataset installed",
		zap.String("marker", remoteMarker),
		zap.String("path", i.layout.Path()))

	return nil
}

// decompress streams the zstd archive at src over the dataset file at
// dst, overwriting any previous dataset in place.
func decompress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer in.Close()

	zr, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to initialize decompressor: %w", err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create dataset file: %w", err)
	}

	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return fmt.Errorf("failed to decompress archive: %w", err)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync dataset file: %w", err)
	}

	return out.Close()
}
