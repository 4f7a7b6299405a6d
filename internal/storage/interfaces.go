package storage

import (
	"context"

	"github.com/engram-sh/engram/pkg/types"
)

// EpisodeStore provides CRUD, versioning, and tagging for episodes.
// Every single-episode mutation commits the episode row and its version row
// atomically, or fails leaving the store unchanged.
type EpisodeStore interface {
	// Insert creates an episode, assigns its ID, initialises version=1 and
	// writes a "created" version row. Returns ErrValidation on empty name.
	Insert(ctx context.Context, ep *types.Episode) error

	// Update applies a patch to an episode. When the patch leaves the
	// checksum unchanged it is a no-op and the current version is returned
	// with changed=false. Returns ErrNotFound for missing or deleted rows.
	Update(ctx context.Context, id string, patch types.EpisodePatch) (version int, changed bool, err error)

	// Get retrieves an episode by ID. Tombstoned rows are returned only when
	// includeDeleted is true.
	Get(ctx context.Context, id string, includeDeleted bool) (*types.Episode, error)

	// List retrieves episodes with pagination and filtering, newest first by
	// default. Tombstones are excluded unless opts requests them.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Episode], error)

	// SoftDelete sets the tombstone, bumps the version, and writes a
	// "deleted" version row. Idempotent: deleting a tombstone is a no-op
	// and reports changed=false.
	SoftDelete(ctx context.Context, id string) (changed bool, err error)

	// Restore clears the tombstone, bumps the version, and writes a
	// "restored" version row.
	Restore(ctx context.Context, id string) error

	// Purge hard-deletes an episode with its versions, tags, and relations.
	Purge(ctx context.Context, id string) error

	// Versions returns the full history for an episode, oldest first.
	Versions(ctx context.Context, id string) ([]types.EpisodeVersion, error)

	// MarkSynced flips synced_to_turso for the given episode. Only the
	// replication worker calls this.
	MarkSynced(ctx context.Context, id string, synced bool) error

	// ListUnsynced returns every episode (tombstones included) with
	// synced_to_turso=false.
	ListUnsynced(ctx context.Context) ([]types.Episode, error)

	// TouchAccess increments access_count and stamps last_accessed_at.
	TouchAccess(ctx context.Context, id string) error

	Close() error
}

// RelationStore manages the directed relation multigraph.
type RelationStore interface {
	// UpsertRelation inserts or replaces the edge keyed by
	// (source, target, type), clamping strength to [0, 1].
	UpsertRelation(ctx context.Context, rel types.Relation) error

	// RelationsFor returns edges touching the given episode, outgoing and
	// incoming.
	RelationsFor(ctx context.Context, episodeID string) ([]types.Relation, error)

	// CheckIntegrity reports dangling edges and orphaned version rows.
	CheckIntegrity(ctx context.Context) (*types.IntegrityReport, error)
}

// WebhookStore persists the webhook registry.
type WebhookStore interface {
	AddWebhook(ctx context.Context, hook types.Webhook) error
	ListWebhooks(ctx context.Context) ([]types.Webhook, error)
	RemoveWebhook(ctx context.Context, id string) error
}

// SearchLogStore records executed searches for statistics.
type SearchLogStore interface {
	RecordSearch(ctx context.Context, entry types.SearchLogEntry) error
}

// StatsProvider exposes aggregate store information.
type StatsProvider interface {
	Statistics(ctx context.Context) (*types.Statistics, error)

	// Optimize runs engine maintenance (ANALYZE + VACUUM + WAL checkpoint).
	Optimize(ctx context.Context) error
}

// Store is the full local-store surface consumed by the service facade.
type Store interface {
	EpisodeStore
	RelationStore
	WebhookStore
	SearchLogStore
	StatsProvider
}
