// Package origin provides the HTTP client for the remote dataset origin.
package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/whoswhip/anilyzer/internal/config"
	"go.uber.org/zap"
)

// maxMarkerSize bounds the freshness marker body; a timestamp is tiny.
const maxMarkerSize = 4096

// Client fetches the freshness marker and the dataset archive from the
// remote origin.
type Client struct {
	markerURL      string
	archiveURL     string
	markerClient   *http.Client
	downloadClient *http.Client
	logger         *zap.Logger
}

// NewClient creates a new origin client.
func NewClient(cfg config.OriginConfig, logger *zap.Logger) *Client {
	return &Client{
		markerURL:      cfg.MarkerURL,
		archiveURL:     cfg.ArchiveURL,
		markerClient:   &http.Client{Timeout: cfg.RequestTimeout},
		downloadClient: &http.Client{Timeout: cfg.DownloadTimeout},
		logger:         logger,
	}
}

// FetchMarker retrieves the remote freshness marker as trimmed plain text.
func (c *Client) FetchMarker(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.markerURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build marker request: %w", err)
	}

	resp, err := c.markerClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch marker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("marker fetch returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMarkerSize))
	if err != nil {
		return "", fmt.Errorf("failed to read marker body: %w", err)
	}

	return strings.TrimSpace(string(body)), nil
}

// DownloadArchive streams the dataset archive to dest. On any failure
// the partially written file is removed.
func (c *Client) DownloadArchive(ctx context.Context, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.archiveURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build archive request: %w", err)
	}

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("archive fetch returned HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to write archive: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fmt.Errorf("failed to close archive file: %w", err)
	}

	c.logger.Info("archive downloaded",
		zap.String("dest", dest),
		zap.Int64("size_bytes", written))

	return nil
}
