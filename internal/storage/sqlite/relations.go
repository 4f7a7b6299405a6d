package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// UpsertRelation inserts or replaces the directed edge keyed by
// (source, target, type). Strength is clamped to [0, 1]. Endpoints are not
// required to exist; dangling edges show up in CheckIntegrity.
func (s *Store) UpsertRelation(ctx context.Context, rel types.Relation) error {
	if rel.SourceID == "" || rel.TargetID == "" {
		return fmt.Errorf("%w: relation endpoints are required", storage.ErrValidation)
	}
	if rel.RelationType == "" {
		return fmt.Errorf("%w: relation type is required", storage.ErrValidation)
	}

	if rel.Strength < 0 {
		rel.Strength = 0
	}
	if rel.Strength > 1 {
		rel.Strength = 1
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (source_id, target_id, relation_type, strength, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, target_id, relation_type) DO UPDATE SET
			strength = excluded.strength`,
		rel.SourceID, rel.TargetID, rel.RelationType, rel.Strength, rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert relation: %v", storage.ErrStore, err)
	}
	return nil
}

// RelationsFor returns every edge touching the episode, outgoing first.
func (s *Store) RelationsFor(ctx context.Context, episodeID string) ([]types.Relation, error) {
	if episodeID == "" {
		return nil, fmt.Errorf("%w: episode ID is required", storage.ErrValidation)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, relation_type, strength, created_at
		FROM relations
		WHERE source_id = ? OR target_id = ?
		ORDER BY source_id = ? DESC, created_at ASC`,
		episodeID, episodeID, episodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: load relations: %v", storage.ErrStore, err)
	}
	defer rows.Close()

	var relations []types.Relation
	for rows.Next() {
		var rel types.Relation
		if err := rows.Scan(&rel.SourceID, &rel.TargetID, &rel.RelationType, &rel.Strength, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan relation: %v", storage.ErrStore, err)
		}
		relations = append(relations, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate relations: %v", storage.ErrStore, err)
	}
	return relations, nil
}

// CheckIntegrity reports dangling relation endpoints and version rows whose
// episode has been purged.
func (s *Store) CheckIntegrity(ctx context.Context) (*types.IntegrityReport, error) {
	report := &types.IntegrityReport{CheckedAt: time.Now().UTC()}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM episodes").Scan(&report.Episodes); err != nil {
		return nil, fmt.Errorf("%w: count episodes: %v", storage.ErrStore, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM relations").Scan(&report.Relations); err != nil {
		return nil, fmt.Errorf("%w: count relations: %v", storage.ErrStore, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.source_id, r.target_id, r.relation_type, r.strength, r.created_at,
		       (SELECT COUNT(*) FROM episodes e WHERE e.id = r.source_id),
		       (SELECT COUNT(*) FROM episodes e WHERE e.id = r.target_id)
		FROM relations r
		WHERE NOT EXISTS (SELECT 1 FROM episodes e WHERE e.id = r.source_id)
		   OR NOT EXISTS (SELECT 1 FROM episodes e WHERE e.id = r.target_id)`)
	if err != nil {
		return nil, fmt.Errorf("%w: find dangling relations: %v", storage.ErrStore, err)
	}
	defer rows.Close()

	for rows.Next() {
		var d types.DanglingRelation
		var hasSource, hasTarget int
		if err := rows.Scan(&d.Relation.SourceID, &d.Relation.TargetID, &d.Relation.RelationType,
			&d.Relation.Strength, &d.Relation.CreatedAt, &hasSource, &hasTarget); err != nil {
			return nil, fmt.Errorf("%w: scan dangling relation: %v", storage.ErrStore, err)
		}
		d.MissingSource = hasSource == 0
		d.MissingTarget = hasTarget == 0
		report.DanglingEdges = append(report.DanglingEdges, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate dangling relations: %v", storage.ErrStore, err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM episode_versions v
		WHERE NOT EXISTS (SELECT 1 FROM episodes e WHERE e.id = v.episode_id)`).
		Scan(&report.OrphanedVersions)
	if err != nil {
		return nil, fmt.Errorf("%w: count orphaned versions: %v", storage.ErrStore, err)
	}

	return report, nil
}
