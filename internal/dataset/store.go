// Package dataset provides read access to the installed SQLite series
// dataset and the index maintenance the lookup path depends on.
package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// selectColumns is the serving subset of the series table.
const selectColumns = `id, state, merged_with, title, native_title, romanized_title,
	description, year, status, type, rating, content_rating, has_anime,
	final_volume, final_chapter, total_chapters, genres, tags, links,
	last_updated_at, source_anilist_id, source_anilist_rating, source_anilist_cover`

// Store provides query access to the installed dataset.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens the dataset at path. The file must already exist; the
// serving process never creates a dataset.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("dataset not found at %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}

	return &Store{db: db, path: path, logger: logger}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the dataset is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ByAnilistIDs returns all series whose source_anilist_id is in ids.
func (s *Store) ByAnilistIDs(ctx context.Context, ids []string) ([]Series, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf("SELECT %s FROM series WHERE source_anilist_id IN (%s)", selectColumns, placeholders)

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("series query failed: %w", err)
	}
	defer rows.Close()

	var results []Series
	for rows.Next() {
		var sr Series
		if err := rows.Scan(
			&sr.ID, &sr.State, &sr.MergedWith, &sr.Title, &sr.NativeTitle, &sr.RomanizedTitle,
			&sr.Description, &sr.Year, &sr.Status, &sr.Type, &sr.Rating, &sr.ContentRating, &sr.HasAnime,
			&sr.FinalVolume, &sr.FinalChapter, &sr.TotalChapters, &sr.Genres, &sr.Tags, &sr.Links,
			&sr.LastUpdatedAt, &sr.SourceAnilistID, &sr.SourceAnilistRating, &sr.SourceAnilistCover,
		); err != nil {
			return nil, fmt.Errorf("series scan failed: %w", err)
		}
		results = append(results, sr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("series iteration failed: %w", err)
	}

	return results, nil
}

// Count returns the number of series rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM series").Scan(&n); err != nil {
		return 0, fmt.Errorf("count query failed: %w", err)
	}
	return n, nil
}

// CreateIndexes builds the lookup indexes. Idempotent.
func (s *Store) CreateIndexes(ctx context.Context) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS source_anilist_id_idx ON series(source_anilist_id)",
		"CREATE INDEX IF NOT EXISTS active_source_anilist_id_idx ON series(source_anilist_id, state)",
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	s.logger.Info("lookup indexes created")
	return nil
}

// PruneInactive deletes every series that is not in the active state
// and returns the number of rows removed.
func (s *Store) PruneInactive(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM series WHERE state != 'active'")
	if err != nil {
		return 0, fmt.Errorf("failed to prune inactive series: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned rows: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("pruned inactive series", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// Prepare rebuilds the derived structures of a freshly installed
// dataset: inactive rows are pruned and the lookup indexes created.
// A missing dataset file is not an error, preparation is skipped.
func Prepare(ctx context.Context, path string, logger *zap.Logger) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			logger.Warn("dataset file not found, skipping index creation", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("failed to stat dataset: %w", err)
	}

	store, err := Open(path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := store.PruneInactive(ctx); err != nil {
		return err
	}

	return store.CreateIndexes(ctx)
}
