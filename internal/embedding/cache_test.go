package embedding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/engram-sh/engram/internal/storage"
)

func newTestBackend(t *testing.T, dim int) *SQLiteBackend {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	backend, err := NewSQLiteBackend(db, dim)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return backend
}

func newTestCache(t *testing.T, dim int) *Cache {
	t.Helper()
	return NewCache(newTestBackend(t, dim), HashProvider{Dim: dim}, dim, nil)
}

func TestEmbed_DeterministicAndDeduplicated(t *testing.T) {
	cache := newTestCache(t, 64)
	ctx := context.Background()

	first, err := cache.Embed(ctx, []string{"the quick brown fox"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	second, err := cache.Embed(ctx, []string{"the quick brown fox"})
	if err != nil {
		t.Fatalf("second Embed failed: %v", err)
	}

	if len(first[0]) != 64 {
		t.Fatalf("expected 64 components, got %d", len(first[0]))
	}
	for i := range first[0] {
		if first[0][i] != second[0][i] {
			t.Fatalf("component %d differs between embeds: %v vs %v", i, first[0][i], second[0][i])
		}
	}

	count, err := cache.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("identical texts must share one row, got %d", count)
	}
}

func TestEmbed_ProviderCalledOncePerContent(t *testing.T) {
	calls := 0
	provider := ProviderFunc(func(_ context.Context, text string) ([]float32, error) {
		calls++
		return HashProvider{Dim: 32}.Embed(context.Background(), text)
	})
	cache := NewCache(newTestBackend(t, 32), provider, 32, nil)
	ctx := context.Background()

	if _, err := cache.Embed(ctx, []string{"a", "b", "a"}); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 provider calls for 2 distinct texts, got %d", calls)
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	provider := ProviderFunc(func(context.Context, string) ([]float32, error) {
		return make([]float32, 7), nil
	})
	cache := NewCache(newTestBackend(t, 32), provider, 32, nil)

	_, err := cache.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, storage.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEmbed_ProviderFailure(t *testing.T) {
	provider := ProviderFunc(func(context.Context, string) ([]float32, error) {
		return nil, fmt.Errorf("model not loaded")
	})
	cache := NewCache(newTestBackend(t, 32), provider, 32, nil)

	_, err := cache.EmbedQuery(context.Background(), "text")
	if !errors.Is(err, storage.ErrProvider) {
		t.Errorf("expected ErrProvider, got %v", err)
	}
}

func TestSearchSimilar_RanksByCosine(t *testing.T) {
	cache := newTestCache(t, 32)
	ctx := context.Background()

	texts := []string{
		"the quick brown fox jumps",
		"a fast auburn fox leaps",
		"invoice for office supplies",
	}
	if _, err := cache.Embed(ctx, texts); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	// Threshold 0 falls back to the 0.7 default; use a tiny positive value
	// to keep weak matches visible.
	results, err := cache.SearchSimilar(ctx, "quick brown fox", 10, 0.01)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not sorted by similarity: %v then %v",
				results[i-1].Similarity, results[i].Similarity)
		}
	}
	if results[0].Content != texts[0] {
		t.Errorf("expected %q as top hit, got %q", texts[0], results[0].Content)
	}

	// An exact-content query embeds to the same vector, similarity 1.
	results, err = cache.SearchSimilar(ctx, texts[2], 1, 0.9)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(results) != 1 || math.Abs(results[0].Similarity-1.0) > 1e-6 {
		t.Errorf("expected exact match with similarity 1, got %+v", results)
	}
}

func TestSearchSimilar_ThresholdFilters(t *testing.T) {
	cache := newTestCache(t, 32)
	ctx := context.Background()

	if _, err := cache.Embed(ctx, []string{"alpha beta gamma", "zulu yankee xray"}); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	results, err := cache.SearchSimilar(ctx, "alpha beta gamma", 10, 0.99)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected only the exact match above 0.99, got %d results", len(results))
	}
}

func TestDeleteByHash(t *testing.T) {
	cache := newTestCache(t, 32)
	ctx := context.Background()

	if _, err := cache.Embed(ctx, []string{"to be removed"}); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	hash := ContentHash("to be removed")
	if err := cache.DeleteByHash(ctx, hash); err != nil {
		t.Fatalf("DeleteByHash failed: %v", err)
	}
	if err := cache.DeleteByHash(ctx, hash); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	count, _ := cache.Count(ctx)
	if count != 0 {
		t.Errorf("expected empty cache, got %d rows", count)
	}
}

func TestClear(t *testing.T) {
	cache := newTestCache(t, 32)
	ctx := context.Background()

	if _, err := cache.Embed(ctx, []string{"one", "two", "three"}); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	removed, err := cache.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 removed, got %d", removed)
	}
	count, _ := cache.Count(ctx)
	if count != 0 {
		t.Errorf("expected empty cache after Clear, got %d", count)
	}

	// Content embeds again after a clear.
	if _, err := cache.EmbedQuery(ctx, "one"); err != nil {
		t.Fatalf("EmbedQuery after Clear failed: %v", err)
	}
}

func TestCluster(t *testing.T) {
	cache := newTestCache(t, 32)
	ctx := context.Background()

	texts := []string{
		"go compiler toolchain", "go runtime scheduler",
		"pasta carbonara recipe", "tomato soup recipe",
	}
	if _, err := cache.Embed(ctx, texts); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	clusters, err := cache.Cluster(ctx, 2)
	if err != nil {
		t.Fatalf("Cluster failed: %v", err)
	}
	total := 0
	for _, contents := range clusters {
		total += len(contents)
	}
	if total != len(texts) {
		t.Errorf("expected every row assigned, got %d of %d", total, len(texts))
	}

	if _, err := cache.Cluster(ctx, 50); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("expected ErrValidation for more clusters than rows, got %v", err)
	}
}

func TestEmbedWithMetadata(t *testing.T) {
	cache := newTestCache(t, 32)
	ctx := context.Background()

	if _, err := cache.EmbedWithMetadata(ctx, "annotated", map[string]interface{}{"source": "test"}); err != nil {
		t.Fatalf("EmbedWithMetadata failed: %v", err)
	}

	results, err := cache.SearchSimilar(ctx, "annotated", 1, 0.9)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(results) != 1 || results[0].Metadata["source"] != "test" {
		t.Errorf("expected metadata round-trip, got %+v", results)
	}
}
