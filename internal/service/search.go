package service

import (
	"context"
	"time"

	"github.com/engram-sh/engram/internal/search"
	"github.com/engram-sh/engram/pkg/types"
)

// SearchKnowledge ranks episodes for the query and records the search in the
// statistics log.
func (s *Service) SearchKnowledge(ctx context.Context, req search.Request) ([]search.Hit, error) {
	hits, err := s.engine.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.store.RecordSearch(ctx, types.SearchLogEntry{
		Query:        req.Query,
		ResultsCount: len(hits),
		Timestamp:    time.Now().UTC(),
	}); err != nil {
		s.log.Printf("[service] record search: %v", err)
	}
	return hits, nil
}

// SearchSimilar queries the provider-backed embedding cache. This is the
// higher-dimension semantic space, separate from search_knowledge's inline
// episode embeddings.
func (s *Service) SearchSimilar(ctx context.Context, query string, limit int, threshold float64) ([]types.SimilarResult, error) {
	return s.cache.SearchSimilar(ctx, query, limit, threshold)
}

// EmbedContent embeds texts through the cache, deduplicating by content
// hash.
func (s *Service) EmbedContent(ctx context.Context, texts []string) ([][]float32, error) {
	return s.cache.Embed(ctx, texts)
}
