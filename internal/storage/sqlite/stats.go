package sqlite

import (
	"context"
	"fmt"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// RecordSearch appends one row to the informational search log.
func (s *Store) RecordSearch(ctx context.Context, entry types.SearchLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_log (query, results_count, timestamp)
		VALUES (?, ?, ?)`,
		entry.Query, entry.ResultsCount, entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("%w: record search: %v", storage.ErrStore, err)
	}
	return nil
}

// Statistics summarises the store contents.
func (s *Store) Statistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{Categories: map[string]int{}}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM episodes WHERE deleted = 0", &stats.Episodes},
		{"SELECT COUNT(*) FROM episodes WHERE deleted = 1", &stats.DeletedEpisodes},
		{"SELECT COUNT(*) FROM episode_versions", &stats.Versions},
		{"SELECT COUNT(*) FROM tags", &stats.Tags},
		{"SELECT COUNT(*) FROM relations", &stats.Relations},
		{"SELECT COUNT(*) FROM webhooks", &stats.Webhooks},
		{"SELECT COUNT(*) FROM search_log", &stats.Searches},
		// Sync counts cover tombstones too; deletions replicate as remote
		// tombstones, so a deleted row can still be pending.
		{"SELECT COUNT(*) FROM episodes WHERE synced_to_turso = 1", &stats.Synced},
		{"SELECT COUNT(*) FROM episodes WHERE synced_to_turso = 0", &stats.Unsynced},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("%w: statistics: %v", storage.ErrStore, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM episodes
		WHERE deleted = 0 AND category IS NOT NULL
		GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("%w: category statistics: %v", storage.ErrStore, err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("%w: scan category stat: %v", storage.ErrStore, err)
		}
		stats.Categories[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate category stats: %v", storage.ErrStore, err)
	}

	// page_count * page_size gives the on-disk size without a stat() call,
	// which also works for :memory: databases.
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DatabaseBytes = pageCount * pageSize
		}
	}

	return stats, nil
}

// Optimize runs engine maintenance: ANALYZE refreshes the query planner
// statistics, VACUUM compacts the file, and the checkpoint folds the WAL in.
func (s *Store) Optimize(ctx context.Context) error {
	for _, stmt := range []string{
		"ANALYZE",
		"VACUUM",
		"PRAGMA wal_checkpoint(TRUNCATE)",
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %s: %v", storage.ErrStore, stmt, err)
		}
	}
	return nil
}
