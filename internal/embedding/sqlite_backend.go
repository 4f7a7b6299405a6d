package embedding

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// cacheSchema creates the embedding cache table. The cache shares the local
// database file with the episode store but owns its table exclusively.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS embedding_cache (
    content_hash TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    embedding BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// SQLiteBackend stores embedding cache rows in the local SQLite file.
type SQLiteBackend struct {
	db  *sql.DB
	dim int
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend prepares the cache table on the given connection. dim is
// the fixed vector dimension of the store.
func NewSQLiteBackend(db *sql.DB, dim int) (*SQLiteBackend, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: cache dimension must be positive", storage.ErrValidation)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		return nil, fmt.Errorf("%w: create embedding cache schema: %v", storage.ErrStore, err)
	}
	return &SQLiteBackend{db: db, dim: dim}, nil
}

// Get returns the row for a content hash.
func (b *SQLiteBackend) Get(ctx context.Context, contentHash string) (*types.EmbeddingRow, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT content_hash, content, embedding, dimension, metadata, created_at, updated_at
		FROM embedding_cache WHERE content_hash = ?`, contentHash)

	var r types.EmbeddingRow
	var blob []byte
	var dim int
	var metadataJSON sql.NullString
	err := row.Scan(&r.ContentHash, &r.Content, &blob, &dim, &metadataJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get embedding row: %v", storage.ErrStore, err)
	}

	r.Embedding, err = DecodeVector(blob, dim)
	if err != nil {
		return nil, fmt.Errorf("%w: decode cached embedding: %v", storage.ErrStore, err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &r.Metadata); err != nil {
			return nil, fmt.Errorf("%w: unmarshal embedding metadata: %v", storage.ErrStore, err)
		}
	}
	return &r, nil
}

// Put upserts a row. Vectors of the wrong length fail with
// ErrDimensionMismatch before touching the database.
func (b *SQLiteBackend) Put(ctx context.Context, row *types.EmbeddingRow) error {
	if len(row.Embedding) != b.dim {
		return fmt.Errorf("%w: got dimension %d, store fixed at %d",
			storage.ErrDimensionMismatch, len(row.Embedding), b.dim)
	}

	var metadataJSON []byte
	if row.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(row.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal embedding metadata: %v", storage.ErrValidation, err)
		}
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO embedding_cache (content_hash, content, embedding, dimension, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		row.ContentHash, row.Content, EncodeVector(row.Embedding), b.dim,
		nullableJSON(metadataJSON), row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: put embedding row: %v", storage.ErrStore, err)
	}
	return nil
}

// All returns every stored row, oldest first.
func (b *SQLiteBackend) All(ctx context.Context) ([]types.EmbeddingRow, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT content_hash, content, embedding, dimension, metadata, created_at, updated_at
		FROM embedding_cache ORDER BY created_at ASC, content_hash ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: scan embedding cache: %v", storage.ErrStore, err)
	}
	defer rows.Close()

	var out []types.EmbeddingRow
	for rows.Next() {
		var r types.EmbeddingRow
		var blob []byte
		var dim int
		var metadataJSON sql.NullString
		if err := rows.Scan(&r.ContentHash, &r.Content, &blob, &dim, &metadataJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan embedding row: %v", storage.ErrStore, err)
		}
		r.Embedding, err = DecodeVector(blob, dim)
		if err != nil {
			return nil, fmt.Errorf("%w: decode cached embedding: %v", storage.ErrStore, err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("%w: unmarshal embedding metadata: %v", storage.ErrStore, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate embedding cache: %v", storage.ErrStore, err)
	}
	return out, nil
}

// Delete removes the row for a content hash.
func (b *SQLiteBackend) Delete(ctx context.Context, contentHash string) error {
	result, err := b.db.ExecContext(ctx,
		"DELETE FROM embedding_cache WHERE content_hash = ?", contentHash)
	if err != nil {
		return fmt.Errorf("%w: delete embedding row: %v", storage.ErrStore, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete rows affected: %v", storage.ErrStore, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Count returns the number of stored rows.
func (b *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count embedding cache: %v", storage.ErrStore, err)
	}
	return n, nil
}

func nullableJSON(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
