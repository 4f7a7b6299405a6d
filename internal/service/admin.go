package service

import (
	"context"
	"fmt"
	"time"

	"github.com/engram-sh/engram/internal/backup"
	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/internal/turso"
	"github.com/engram-sh/engram/pkg/types"
)

// SyncAllToTurso schedules every unsynced row for replication. Returns the
// count scheduled, not delivered.
func (s *Service) SyncAllToTurso(ctx context.Context) (int, error) {
	if s.replicator == nil {
		return 0, fmt.Errorf("%w: replication is not configured", storage.ErrValidation)
	}
	scheduled, err := s.replicator.SyncAll(ctx)
	if err != nil {
		return 0, err
	}
	if s.audit != nil {
		s.audit.Record("sync_all_to_turso", map[string]interface{}{"scheduled": scheduled})
	}
	return scheduled, nil
}

// TursoStatus reports replication health. A disabled replicator reports
// Enabled=false with local counts only.
func (s *Service) TursoStatus(ctx context.Context) (*turso.Status, error) {
	if s.replicator == nil {
		stats, err := s.store.Statistics(ctx)
		if err != nil {
			return nil, err
		}
		return &turso.Status{
			Enabled:  false,
			Synced:   stats.Synced,
			Unsynced: stats.Unsynced,
		}, nil
	}
	return s.replicator.Status(ctx)
}

// BackupDatabase snapshots the store. An empty path picks a timestamped file
// under the backup directory.
func (s *Service) BackupDatabase(path string) (*backup.Result, error) {
	if s.backups == nil {
		return nil, fmt.Errorf("%w: backups are not configured", storage.ErrValidation)
	}
	result, err := s.backups.BackupNow(path)
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		s.audit.Record("backup_database", map[string]interface{}{
			"path": result.Path,
			"size": result.Size,
		})
	}
	return result, nil
}

// RestoreDatabase replaces the live database with a verified backup. The
// caller must have closed or must reopen the store around this call; the
// binaries handle that.
func (s *Service) RestoreDatabase(path string) error {
	if s.backups == nil {
		return fmt.Errorf("%w: backups are not configured", storage.ErrValidation)
	}
	if err := s.backups.Restore(path); err != nil {
		return err
	}
	if s.engine != nil {
		s.engine.InvalidateCache()
	}
	if s.audit != nil {
		s.audit.Record("restore_database", map[string]interface{}{"path": path})
	}
	return nil
}

// ListBackups returns stored snapshots, newest first.
func (s *Service) ListBackups() ([]backup.Info, error) {
	if s.backups == nil {
		return nil, fmt.Errorf("%w: backups are not configured", storage.ErrValidation)
	}
	return s.backups.List()
}

// GetStatistics summarises store contents.
func (s *Service) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	return s.store.Statistics(ctx)
}

// GetLogs returns the most recent audit entries.
func (s *Service) GetLogs(limit int) ([]types.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.Tail(limit)
}

// ClearCacheResult reports what clear_cache removed.
type ClearCacheResult struct {
	SearchCacheCleared bool `json:"search_cache_cleared"`
	EmbeddingsRemoved  int  `json:"embeddings_removed"`
}

// ClearCache drops the search result cache and empties the provider-backed
// embedding cache. Embeddings are recomputed on demand.
func (s *Service) ClearCache(ctx context.Context) (*ClearCacheResult, error) {
	result := &ClearCacheResult{}
	if s.engine != nil {
		s.engine.InvalidateCache()
		result.SearchCacheCleared = true
	}
	if s.cache != nil {
		removed, err := s.cache.Clear(ctx)
		if err != nil {
			return nil, err
		}
		result.EmbeddingsRemoved = removed
	}
	if s.audit != nil {
		s.audit.Record("clear_cache", map[string]interface{}{
			"embeddings_removed": result.EmbeddingsRemoved,
		})
	}
	return result, nil
}

// OptimizeDatabase runs engine maintenance.
func (s *Service) OptimizeDatabase(ctx context.Context) error {
	if err := s.store.Optimize(ctx); err != nil {
		return err
	}
	if s.audit != nil {
		s.audit.Record("optimize_database", nil)
	}
	return nil
}

// CheckIntegrity reports dangling relations and orphaned version rows.
func (s *Service) CheckIntegrity(ctx context.Context) (*types.IntegrityReport, error) {
	return s.store.CheckIntegrity(ctx)
}

// StatusReport is the get_status snapshot.
type StatusReport struct {
	Version       string        `json:"version"`
	Uptime        time.Duration `json:"uptime"`
	DatabasePath  string        `json:"database_path"`
	TursoEnabled  bool          `json:"turso_enabled"`
	Episodes      int           `json:"episodes"`
	Unsynced      int           `json:"unsynced"`
	DatabaseBytes int64         `json:"database_bytes"`
}

// GetStatus reports process and store health.
func (s *Service) GetStatus(ctx context.Context) (*StatusReport, error) {
	stats, err := s.store.Statistics(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		Version:       Version,
		Uptime:        time.Since(s.startedAt).Round(time.Second),
		DatabasePath:  s.dbPath,
		TursoEnabled:  s.replicator != nil,
		Episodes:      stats.Episodes,
		Unsynced:      stats.Unsynced,
		DatabaseBytes: stats.DatabaseBytes,
	}, nil
}
