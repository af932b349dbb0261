// Package freshness decides whether the remote dataset supersedes the
// locally installed one, based on a persisted timestamp marker.
package freshness

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// markerFormats are tried in order when parsing a freshness marker.
var markerFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Tracker owns the persisted local freshness marker file. It is the
// only component that reads or writes the file.
type Tracker struct {
	path   string
	logger *zap.Logger
}

// NewTracker creates a tracker for the marker file at path.
func NewTracker(path string, logger *zap.Logger) *Tracker {
	return &Tracker{path: path, logger: logger}
}

// Local returns the persisted marker. The second return value reports
// whether a marker exists at all.
func (t *Tracker) Local() (string, bool, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read local marker: %w", err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// UpdateAvailable reports whether the remote marker supersedes the
// local one. A missing local marker means no dataset has ever been
// installed, so an update is available. A malformed remote marker
// fails closed: no update this cycle.
func (t *Tracker) UpdateAvailable(remote string) bool {
	remoteTime, err := ParseMarker(remote)
	if err != nil {
		t.logger.Warn("remote marker unparseable, skipping update",
			zap.String("marker", remote),
			zap.Error(err))
		return false
	}

	local, exists, err := t.Local()
	if err != nil {
		t.logger.Warn("failed to read local marker, treating as absent", zap.Error(err))
		return true
	}
	if !exists {
		t.logger.Info("no local marker, first install required")
		return true
	}

	localTime, err := ParseMarker(local)
	if err != nil {
		t.logger.Warn("local marker unparseable, forcing reinstall",
			zap.String("marker", local),
			zap.Error(err))
		return true
	}

	return remoteTime.After(localTime)
}

// Commit persists the marker synchronously. It must be called only
// after the dataset the marker describes is fully installed.
func (t *Tracker) Commit(remote string) error {
	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("failed to create marker file: %w", err)
	}

	if _, err := f.WriteString(remote); err != nil {
		f.Close()
		return fmt.Errorf("failed to write marker: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync marker: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close marker file: %w", err)
	}

	t.logger.Info("freshness marker committed", zap.String("marker", remote))
	return nil
}

// ParseMarker parses a freshness marker into a comparable time.
func ParseMarker(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty marker")
	}

	for _, layout := range markerFormats {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized marker format: %q", raw)
}
