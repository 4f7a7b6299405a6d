package embedding

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// PostgresBackend stores embedding cache rows in Postgres with the pgvector
// extension, ranking similarity in-database instead of scanning in Go.
// Selected via ENGRAM_EMBED_BACKEND=postgres for deployments that already
// run Postgres.
type PostgresBackend struct {
	db  *sql.DB
	dim int
}

var _ Backend = (*PostgresBackend)(nil)
var _ similaritySearcher = (*PostgresBackend)(nil)

// NewPostgresBackend connects to Postgres and prepares the cache table with
// a vector column of the fixed dimension.
func NewPostgresBackend(dsn string, dim int) (*PostgresBackend, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: cache dimension must be positive", storage.ErrValidation)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", storage.ErrStore, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", storage.ErrStore, err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create pgvector extension: %v", storage.ErrStore, err)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`, dim)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create embedding cache table: %v", storage.ErrStore, err)
	}

	return &PostgresBackend{db: db, dim: dim}, nil
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

// Get returns the row for a content hash.
func (b *PostgresBackend) Get(ctx context.Context, contentHash string) (*types.EmbeddingRow, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT content_hash, content, embedding, metadata, created_at, updated_at
		FROM embedding_cache WHERE content_hash = $1`, contentHash)

	var r types.EmbeddingRow
	var vec pgvector.Vector
	var metadataJSON sql.NullString
	err := row.Scan(&r.ContentHash, &r.Content, &vec, &metadataJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get embedding row: %v", storage.ErrStore, err)
	}

	r.Embedding = vec.Slice()
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &r.Metadata); err != nil {
			return nil, fmt.Errorf("%w: unmarshal embedding metadata: %v", storage.ErrStore, err)
		}
	}
	return &r, nil
}

// Put upserts a row, enforcing the fixed dimension.
func (b *PostgresBackend) Put(ctx context.Context, row *types.EmbeddingRow) error {
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
		INSERT INTO embedding_cache (content_hash, content, embedding, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`,
		row.ContentHash, row.Content, pgvector.NewVector(row.Embedding),
		nullableJSON(metadataJSON), row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: put embedding row: %v", storage.ErrStore, err)
	}
	return nil
}

// All returns every stored row, oldest first.
func (b *PostgresBackend) All(ctx context.Context) ([]types.EmbeddingRow, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT content_hash, content, embedding, metadata, created_at, updated_at
		FROM embedding_cache ORDER BY created_at ASC, content_hash ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: scan embedding cache: %v", storage.ErrStore, err)
	}
	defer rows.Close()

	var out []types.EmbeddingRow
	for rows.Next() {
		var r types.EmbeddingRow
		var vec pgvector.Vector
		var metadataJSON sql.NullString
		if err := rows.Scan(&r.ContentHash, &r.Content, &vec, &metadataJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan embedding row: %v", storage.ErrStore, err)
		}
		r.Embedding = vec.Slice()
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

// Similar ranks rows by cosine distance in-database, then recomputes exact
// cosine in Go for the threshold filter so the ordering guarantee matches
// the linear-scan path.
func (b *PostgresBackend) Similar(ctx context.Context, query []float32, limit int, threshold float64) ([]types.SimilarResult, error) {
	qv := pgvector.NewVector(query)
	rows, err := b.db.QueryContext(ctx, `
		SELECT content_hash, content, embedding, metadata
		FROM embedding_cache
		ORDER BY embedding <=> $1
		LIMIT $2`, qv, limit*3)
	if err != nil {
		return nil, fmt.Errorf("%w: pgvector search: %v", storage.ErrStore, err)
	}
	defer rows.Close()

	var results []types.SimilarResult
	for rows.Next() {
		var hash, content string
		var vec pgvector.Vector
		var metadataJSON sql.NullString
		if err := rows.Scan(&hash, &content, &vec, &metadataJSON); err != nil {
			return nil, fmt.Errorf("%w: scan pgvector hit: %v", storage.ErrStore, err)
		}
		sim := Cosine(query, vec.Slice())
		if sim < threshold {
			continue
		}
		res := types.SimilarResult{ID: hash, Content: content, Similarity: sim}
		if metadataJSON.Valid && metadataJSON.String != "" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &res.Metadata)
		}
		results = append(results, res)
		if len(results) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate pgvector hits: %v", storage.ErrStore, err)
	}
	return results, nil
}

// Delete removes the row for a content hash.
func (b *PostgresBackend) Delete(ctx context.Context, contentHash string) error {
	result, err := b.db.ExecContext(ctx,
		"DELETE FROM embedding_cache WHERE content_hash = $1", contentHash)
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
func (b *PostgresBackend) Count(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count embedding cache: %v", storage.ErrStore, err)
	}
	return n, nil
}
