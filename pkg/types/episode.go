// Package types defines the core data structures shared across the engram
// storage, search, replication, and service layers.
package types

import (
	"crypto/md5"
	"fmt"
	"time"
)

// ChangeType classifies an episode version row.
type ChangeType string

const (
	// ChangeCreated marks the initial version written by add_episode.
	ChangeCreated ChangeType = "created"

	// ChangeUpdated marks a version written by update_episode.
	ChangeUpdated ChangeType = "updated"

	// ChangeDeleted marks the tombstone version written by remove_episode.
	ChangeDeleted ChangeType = "deleted"

	// ChangeRestored marks a version written when a tombstone is cleared.
	ChangeRestored ChangeType = "restored"
)

// FastEmbeddingDim is the dimension of the hash-derived embedding stored
// inline on the episode row. This space is separate from the provider-backed
// embedding cache and the two are never mixed in a single cosine.
const FastEmbeddingDim = 32

// Episode is the primary unit of storage: a named text record with metadata,
// tags, an inline fast-path embedding, and replication state.
type Episode struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Category string                 `json:"category,omitempty"`
	Priority int                    `json:"priority"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version starts at 1 and strictly increases on any field mutation.
	Version int `json:"version"`

	// Deleted is the tombstone flag. Soft-deleted episodes are invisible to
	// default listings and searches but retained for audit and history.
	Deleted bool `json:"deleted,omitempty"`

	// Embedding is the 32-dimension fast-path vector derived from
	// name + " " + content. Always present; never provider-backed.
	Embedding []float32 `json:"-"`

	// Checksum is md5(name || content), used to detect no-op updates.
	Checksum string `json:"checksum,omitempty"`

	// SyncedToTurso reports whether the row has been mirrored to the remote
	// libSQL database. Cleared on every local mutation.
	SyncedToTurso bool `json:"synced_to_turso"`

	Tags []string `json:"tags,omitempty"`

	// AccessCount and LastAccessedAt are informational quality signals
	// bumped by get_episode. They never affect ranking.
	AccessCount    int        `json:"access_count,omitempty"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// ComputeChecksum returns the md5 hex digest of name || content.
// MD5 is used for change detection only, never for security.
func ComputeChecksum(name, content string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(name+content)))
}

// EpisodeVersion is one historical revision of an episode. The row stores the
// post-image; the pre-image is the previous version row.
type EpisodeVersion struct {
	EpisodeID  string                 `json:"episode_id"`
	Version    int                    `json:"version"`
	Name       string                 `json:"name"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	ChangedAt  time.Time              `json:"changed_at"`
	ChangeType ChangeType             `json:"change_type"`
}

// EpisodePatch describes a partial update to an episode. Nil fields are left
// untouched; Tags, when non-nil, replaces the full tag set.
type EpisodePatch struct {
	Name     *string                `json:"name,omitempty"`
	Content  *string                `json:"content,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Category *string                `json:"category,omitempty"`
	Priority *int                   `json:"priority,omitempty"`
	Tags     []string               `json:"tags,omitempty"`
}
