// Package sqlite implements the engram local store on a single-file
// embedded SQLite database (modernc.org/sqlite, CGO-free).
package sqlite

// Schema contains the SQL statements to create the local database schema.
// All statements are idempotent so the constant can be executed on every
// open.
const Schema = `
-- Episodes: the primary entity. Deletions are soft (tombstone flag).
CREATE TABLE IF NOT EXISTS episodes (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',

    -- Free-form metadata (JSON object), opaque to the store
    metadata TEXT,

    category TEXT,
    priority INTEGER NOT NULL DEFAULT 0,

    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,

    -- Monotonic per-episode version, starts at 1
    version INTEGER NOT NULL DEFAULT 1,

    -- Tombstone flag; tombstoned rows are hidden from default reads
    deleted INTEGER NOT NULL DEFAULT 0,

    -- Fast-path 32-dim embedding (little-endian float32 BLOB)
    embedding BLOB,

    -- md5(name || content), used to detect no-op updates
    checksum TEXT NOT NULL,

    -- Replication state; cleared on every local mutation
    synced_to_turso INTEGER NOT NULL DEFAULT 0,

    -- Informational access signals
    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_episodes_name ON episodes(name);
CREATE INDEX IF NOT EXISTS idx_episodes_category ON episodes(category);
CREATE INDEX IF NOT EXISTS idx_episodes_created_at ON episodes(created_at);
CREATE INDEX IF NOT EXISTS idx_episodes_synced ON episodes(synced_to_turso);

-- Episode versions: one row per historical revision (the post-image).
CREATE TABLE IF NOT EXISTS episode_versions (
    episode_id TEXT NOT NULL,
    version INTEGER NOT NULL,
    name TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    metadata TEXT,
    changed_at TIMESTAMP NOT NULL,
    change_type TEXT NOT NULL,

    PRIMARY KEY (episode_id, version)
);

CREATE INDEX IF NOT EXISTS idx_versions_episode ON episode_versions(episode_id);

-- Tags: set semantics per episode (duplicates ignored on insert).
CREATE TABLE IF NOT EXISTS tags (
    episode_id TEXT NOT NULL,
    tag TEXT NOT NULL,

    PRIMARY KEY (episode_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);
CREATE INDEX IF NOT EXISTS idx_tags_episode ON tags(episode_id);

-- Relations: directed multigraph keyed by (source, target, type).
-- Endpoints are intentionally not foreign keys: dangling edges are allowed
-- so that bulk ingestion tolerates out-of-order inserts. The integrity
-- report flags them.
CREATE TABLE IF NOT EXISTS relations (
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    relation_type TEXT NOT NULL,
    strength REAL NOT NULL DEFAULT 1.0,
    created_at TIMESTAMP NOT NULL,

    PRIMARY KEY (source_id, target_id, relation_type)
);

CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source_id);
CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_id);

-- Webhooks: persistent event subscriptions, re-read on startup.
CREATE TABLE IF NOT EXISTS webhooks (
    id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    event_type TEXT NOT NULL DEFAULT '*',
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

-- Search log: informational only.
CREATE TABLE IF NOT EXISTS search_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    query TEXT NOT NULL,
    results_count INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL
);
`
