package embedding

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// DefaultSimilarityThreshold is the minimum cosine similarity a row must
// reach to appear in SearchSimilar results.
const DefaultSimilarityThreshold = 0.7

// Backend is the persistence layer of the embedding cache. Implementations:
// the SQLite table in the local database file, and the Postgres/pgvector
// table for deployments that already run Postgres.
type Backend interface {
	// Get returns the row for a content hash, or storage.ErrNotFound.
	Get(ctx context.Context, contentHash string) (*types.EmbeddingRow, error)

	// Put upserts a row keyed by its content hash.
	Put(ctx context.Context, row *types.EmbeddingRow) error

	// All returns every stored row. The corpus is small and rebuilt
	// frequently; a linear scan is adequate at this scale.
	All(ctx context.Context) ([]types.EmbeddingRow, error)

	// Delete removes the row for a content hash, or storage.ErrNotFound.
	Delete(ctx context.Context, contentHash string) error

	// Count returns the number of stored rows.
	Count(ctx context.Context) (int, error)
}

// similaritySearcher is an optional Backend fast path that ranks rows
// in-store (pgvector). The ordering guarantee still holds: exact cosine on
// the returned rows, threshold applied before truncation.
type similaritySearcher interface {
	Similar(ctx context.Context, query []float32, limit int, threshold float64) ([]types.SimilarResult, error)
}

// Cache maps text to vectors with deduplication by SHA-256 content hash.
// The vector dimension is fixed at construction; offering a vector of a
// different length fails with ErrDimensionMismatch.
type Cache struct {
	backend  Backend
	provider Provider
	dim      int
	log      storage.SearchLogStore // optional; records SearchSimilar calls
}

// NewCache constructs a cache over the given backend and provider. searchLog
// may be nil.
func NewCache(backend Backend, provider Provider, dim int, searchLog storage.SearchLogStore) *Cache {
	return &Cache{backend: backend, provider: provider, dim: dim, log: searchLog}
}

// Dim returns the fixed vector dimension of the cache.
func (c *Cache) Dim() int { return c.dim }

// ContentHash returns the cache key for a text.
func ContentHash(text string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(text)))
}

// Embed returns one vector per input text, in input order. Cached rows are
// returned as stored; misses call the provider and persist the result, so
// embedding the same text twice yields identical vectors and a single row.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.embedOne(ctx, text, nil)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (c *Cache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embedOne(ctx, text, nil)
}

// EmbedWithMetadata embeds a single text and attaches metadata to the cache
// row on first insert.
func (c *Cache) EmbedWithMetadata(ctx context.Context, text string, metadata map[string]interface{}) ([]float32, error) {
	return c.embedOne(ctx, text, metadata)
}

func (c *Cache) embedOne(ctx context.Context, text string, metadata map[string]interface{}) ([]float32, error) {
	hash := ContentHash(text)

	row, err := c.backend.Get(ctx, hash)
	if err == nil {
		return row.Embedding, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed %q: %v", storage.ErrProvider, truncate(text, 40), err)
	}
	if len(vec) != c.dim {
		return nil, fmt.Errorf("%w: provider returned dimension %d, cache expects %d",
			storage.ErrDimensionMismatch, len(vec), c.dim)
	}

	now := time.Now().UTC()
	if err := c.backend.Put(ctx, &types.EmbeddingRow{
		ContentHash: hash,
		Content:     text,
		Embedding:   vec,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, err
	}
	return vec, nil
}

// SearchSimilar embeds the query, ranks every stored row by exact cosine
// similarity, filters below threshold, and returns the top limit rows,
// highest similarity first. threshold <= 0 uses the default 0.7.
func (c *Cache) SearchSimilar(ctx context.Context, query string, limit int, threshold float64) ([]types.SimilarResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	queryVec, err := c.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var results []types.SimilarResult
	if fast, ok := c.backend.(similaritySearcher); ok {
		results, err = fast.Similar(ctx, queryVec, limit, threshold)
		if err != nil {
			return nil, err
		}
	} else {
		rows, err := c.backend.All(ctx)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			sim := Cosine(queryVec, row.Embedding)
			if sim < threshold {
				continue
			}
			results = append(results, types.SimilarResult{
				ID:         row.ContentHash,
				Content:    row.Content,
				Similarity: sim,
				Metadata:   row.Metadata,
			})
		}
		sort.Slice(results, func(i, j int) bool {
			if results[i].Similarity != results[j].Similarity {
				return results[i].Similarity > results[j].Similarity
			}
			return results[i].ID < results[j].ID
		})
		if len(results) > limit {
			results = results[:limit]
		}
	}

	if c.log != nil {
		_ = c.log.RecordSearch(ctx, types.SearchLogEntry{
			Query:        query,
			ResultsCount: len(results),
			Timestamp:    time.Now().UTC(),
		})
	}
	return results, nil
}

// DeleteByHash removes a single cache row. There is no automatic eviction.
func (c *Cache) DeleteByHash(ctx context.Context, contentHash string) error {
	return c.backend.Delete(ctx, contentHash)
}

// Count returns the number of cached rows.
func (c *Cache) Count(ctx context.Context) (int, error) {
	return c.backend.Count(ctx)
}

// Clear removes every cached row and returns how many were removed. Vectors
// are recomputed on the next Embed of the same content.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	rows, err := c.backend.All(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, row := range rows {
		if err := c.backend.Delete(ctx, row.ContentHash); err != nil {
			if isNotFound(err) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Cluster runs k-means over all stored vectors and returns cluster index →
// contents. Returns ErrValidation when fewer rows than clusters are stored.
func (c *Cache) Cluster(ctx context.Context, n int) (map[int][]string, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: cluster count must be positive", storage.ErrValidation)
	}
	rows, err := c.backend.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) < n {
		return nil, fmt.Errorf("%w: %d rows stored, %d clusters requested", storage.ErrValidation, len(rows), n)
	}

	vectors := make([][]float32, len(rows))
	for i, row := range rows {
		vectors[i] = row.Embedding
	}
	assignments := kmeans(vectors, n, 25)

	clusters := make(map[int][]string, n)
	for i, cluster := range assignments {
		clusters[cluster] = append(clusters[cluster], rows[i].Content)
	}
	return clusters, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
