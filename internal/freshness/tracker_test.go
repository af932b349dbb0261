package freshness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	path := filepath.Join(t.TempDir(), "series.timestamp.local")
	return NewTracker(path, zap.NewNop())
}

func TestUpdateAvailable(t *testing.T) {
	t.Run("no local marker reports update", func(t *testing.T) {
		tracker := newTestTracker(t)

		assert.True(t, tracker.UpdateAvailable("2024-06-01T00:00:00Z"))
	})

	t.Run("newer remote reports update", func(t *testing.T) {
		tracker := newTestTracker(t)
		require.NoError(t, tracker.Commit("2024-01-01T00:00:00Z"))

		assert.True(t, tracker.UpdateAvailable("2024-06-01T00:00:00Z"))
	})

	t.Run("older remote reports no update", func(t *testing.T) {
		tracker := newTestTracker(t)
		require.NoError(t, tracker.Commit("2024-06-01T00:00:00Z"))

		assert.False(t, tracker.UpdateAvailable("2024-01-01T00:00:00Z"))
	})

	t.Run("equal markers report no update", func(t *testing.T) {
		tracker := newTestTracker(t)
		require.NoError(t, tracker.Commit("2024-06-01T00:00:00Z"))

		assert.False(t, tracker.UpdateAvailable("2024-06-01T00:00:00Z"))
	})

	t.Run("malformed remote marker fails closed", func(t *testing.T) {
		tracker := newTestTracker(t)
		require.NoError(t, tracker.Commit("2024-01-01T00:00:00Z"))

		assert.False(t, tracker.UpdateAvailable("not-a-timestamp"))
	})

	t.Run("malformed local marker forces reinstall", func(t *testing.T) {
		tracker := newTestTracker(t)
		require.NoError(t, os.WriteFile(tracker.path, []byte("garbage"), 0o644))

		assert.True(t, tracker.UpdateAvailable("2024-01-01T00:00:00Z"))
	})
}

func TestCommit(t *testing.T) {
	t.Run("round trips the marker", func(t *testing.T) {
		tracker := newTestTracker(t)
		require.NoError(t, tracker.Commit("2024-06-01T00:00:00Z"))

		local, exists, err := tracker.Local()
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, "2024-06-01T00:00:00Z", local)
	})

	t.Run("overwrites the previous marker", func(t *testing.T) {
		tracker := newTestTracker(t)
		require.NoError(t, tracker.Commit("2024-01-01T00:00:00Z"))
		require.NoError(t, tracker.Commit("2024-06-01T00:00:00Z"))

		local, _, err := tracker.Local()
		require.NoError(t, err)
		assert.Equal(t, "2024-06-01T00:00:00Z", local)
	})
}

func TestParseMarker(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"rfc3339", "2024-06-01T00:00:00Z", false},
		{"rfc3339 nano", "2024-06-01T00:00:00.123456789Z", false},
		{"no zone", "2024-06-01T00:00:00", false},
		{"space separated", "2024-06-01 00:00:00", false},
		{"date only", "2024-06-01", false},
		{"whitespace trimmed", "  2024-06-01T00:00:00Z\n", false},
		{"empty", "", true},
		{"garbage", "not-a-timestamp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMarker(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
