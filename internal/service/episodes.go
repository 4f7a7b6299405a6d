package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/internal/turso"
	"github.com/engram-sh/engram/pkg/types"
)

// AddEpisodeRequest carries the add_episode parameters.
type AddEpisodeRequest struct {
	Name     string                 `json:"name"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Category string                 `json:"category,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
	Priority int                    `json:"priority,omitempty"`

	// RelatedTo creates "related_to" edges from the new episode to each
	// listed id. Targets need not exist yet; dangling edges are flagged
	// by check_integrity.
	RelatedTo []string `json:"related_to,omitempty"`

	// SyncToRemote defaults to true; the transport layers set it.
	SyncToRemote bool `json:"sync_to_remote"`
}

// AddEpisode creates an episode, its initial version row, tags, and any
// requested relations, then kicks off the side effects.
func (s *Service) AddEpisode(ctx context.Context, req AddEpisodeRequest) (*types.Episode, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", storage.ErrValidation)
	}

	ep := &types.Episode{
		Name:     req.Name,
		Content:  req.Content,
		Metadata: req.Metadata,
		Category: req.Category,
		Priority: req.Priority,
		Tags:     req.Tags,
	}
	if err := s.store.Insert(ctx, ep); err != nil {
		return nil, err
	}

	for _, target := range req.RelatedTo {
		rel := types.Relation{
			SourceID:     ep.ID,
			TargetID:     target,
			RelationType: "related_to",
			Strength:     1.0,
		}
		if err := s.store.UpsertRelation(ctx, rel); err != nil {
			s.log.Printf("[service] relation %s -> %s: %v", ep.ID, target, err)
		}
	}

	s.afterWrite("add_episode", ep.ID, map[string]interface{}{
		"episode_id": ep.ID,
		"name":       ep.Name,
		"category":   ep.Category,
	})
	if req.SyncToRemote {
		s.enqueueReplication(turso.Item{ID: ep.ID, Op: turso.OpUpsert, Episode: *ep})
	}
	return ep, nil
}

// UpdateResult is the structured update_episode outcome.
type UpdateResult struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Changed bool   `json:"changed"`
}

// UpdateEpisode applies a patch. A patch that leaves content, metadata,
// category, priority, and tags unchanged is a no-op: no version bump, no
// events, no replication.
func (s *Service) UpdateEpisode(ctx context.Context, id string, patch types.EpisodePatch) (*UpdateResult, error) {
	version, changed, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &UpdateResult{ID: id, Version: version, Changed: false}, nil
	}

	s.afterWrite("update_episode", id, map[string]interface{}{
		"episode_id": id,
		"version":    version,
	})

	updated, err := s.store.Get(ctx, id, true)
	if err != nil {
		s.log.Printf("[service] snapshot for replication of %s: %v", id, err)
	} else {
		s.enqueueReplication(turso.Item{ID: id, Op: turso.OpUpsert, Episode: *updated})
	}
	return &UpdateResult{ID: id, Version: version, Changed: true}, nil
}

// RemoveEpisode tombstones an episode. History, tags, and relations are
// retained; purge is the destructive variant. Removing a tombstone again
// succeeds without events or replication.
func (s *Service) RemoveEpisode(ctx context.Context, id string) error {
	changed, err := s.store.SoftDelete(ctx, id)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.afterWrite("remove_episode", id, map[string]interface{}{"episode_id": id})

	deleted, err := s.store.Get(ctx, id, true)
	if err != nil {
		s.log.Printf("[service] snapshot for replication of %s: %v", id, err)
		return nil
	}
	s.enqueueReplication(turso.Item{ID: id, Op: turso.OpDelete, Episode: *deleted})
	return nil
}

// RestoreEpisode clears a tombstone.
func (s *Service) RestoreEpisode(ctx context.Context, id string) error {
	if err := s.store.Restore(ctx, id); err != nil {
		return err
	}

	s.afterWrite("restore_episode", id, map[string]interface{}{"episode_id": id})

	restored, err := s.store.Get(ctx, id, false)
	if err != nil {
		s.log.Printf("[service] snapshot for replication of %s: %v", id, err)
		return nil
	}
	s.enqueueReplication(turso.Item{ID: id, Op: turso.OpUpsert, Episode: *restored})
	return nil
}

// PurgeEpisode hard-deletes an episode with its versions, tags, and
// relations. Irreversible; the remote row is tombstoned, not erased.
func (s *Service) PurgeEpisode(ctx context.Context, id string) error {
	snapshot, err := s.store.Get(ctx, id, true)
	if err != nil {
		return err
	}
	if err := s.store.Purge(ctx, id); err != nil {
		return err
	}

	s.afterWrite("purge_episode", id, map[string]interface{}{"episode_id": id})
	snapshot.Deleted = true
	s.enqueueReplication(turso.Item{ID: id, Op: turso.OpDelete, Episode: *snapshot})
	return nil
}

// ListEpisodes pages through episodes with filters.
func (s *Service) ListEpisodes(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Episode], error) {
	return s.store.List(ctx, opts)
}

// EpisodeDetail is the full get_episode record.
type EpisodeDetail struct {
	Episode   *types.Episode         `json:"episode"`
	Versions  []types.EpisodeVersion `json:"versions,omitempty"`
	Relations []types.Relation       `json:"relations,omitempty"`
}

// GetEpisode fetches one episode, bumps its access counters, and optionally
// attaches the version history and relations.
func (s *Service) GetEpisode(ctx context.Context, id string, includeVersions bool) (*EpisodeDetail, error) {
	ep, err := s.store.Get(ctx, id, false)
	if err != nil {
		return nil, err
	}

	if err := s.store.TouchAccess(ctx, id); err != nil {
		s.log.Printf("[service] touch access %s: %v", id, err)
	} else {
		ep.AccessCount++
	}

	detail := &EpisodeDetail{Episode: ep}
	if includeVersions {
		versions, err := s.store.Versions(ctx, id)
		if err != nil {
			return nil, err
		}
		detail.Versions = versions
	}

	relations, err := s.store.RelationsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Relations = relations
	return detail, nil
}

// AddRelation creates or replaces a typed edge between two episodes. The
// endpoints are not required to exist yet, so bulk ingestion can insert
// edges out of order; dangling edges show up in check_integrity.
func (s *Service) AddRelation(ctx context.Context, rel types.Relation) error {
	if rel.SourceID == "" || rel.TargetID == "" || rel.RelationType == "" {
		return fmt.Errorf("%w: source, target, and type are required", storage.ErrValidation)
	}

	if err := s.store.UpsertRelation(ctx, rel); err != nil {
		return err
	}

	s.afterWrite("add_relation", rel.SourceID, map[string]interface{}{
		"source_id": rel.SourceID,
		"target_id": rel.TargetID,
		"type":      rel.RelationType,
	})
	return nil
}
