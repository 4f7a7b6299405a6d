// Package search ranks episodes for textual queries across keyword,
// semantic, and hybrid modes.
package search

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/engram-sh/engram/internal/embedding"
	"github.com/engram-sh/engram/internal/storage"
	"github.com/engram-sh/engram/pkg/types"
)

// Mode selects the ranking strategy.
type Mode string

const (
	// ModeKeyword matches substrings against name and content.
	ModeKeyword Mode = "keyword"

	// ModeSemantic ranks by cosine similarity over the inline episode
	// embeddings.
	ModeSemantic Mode = "semantic"

	// ModeHybrid runs keyword first and averages in semantic similarity on
	// the candidate set. Default.
	ModeHybrid Mode = "hybrid"
)

// Request describes one search call.
type Request struct {
	Query string
	Limit int
	Mode  Mode

	// Operator, when set, overrides the operator parsed from the query
	// string and applies to the whitespace-split query terms. One of
	// "and", "or", "not".
	Operator string

	// Filters compose with every mode. Deleted episodes are never returned
	// regardless of the filter flags.
	Filters storage.ListOptions
}

// Hit is one ranked result.
type Hit struct {
	Episode types.Episode `json:"episode"`
	Score   float64       `json:"score"`
	Mode    Mode          `json:"mode"`
}

// Engine ranks episodes from an EpisodeStore. Results are memoized in a short
// TTL cache that the service layer invalidates wholesale on any write.
type Engine struct {
	store storage.EpisodeStore
	cache *resultCache
	log   *log.Logger
}

// NewEngine creates a search engine with the default 5-minute result cache.
func NewEngine(store storage.EpisodeStore, logger *log.Logger) *Engine {
	return NewEngineWithTTL(store, DefaultCacheTTL, logger)
}

// NewEngineWithTTL creates a search engine with a custom result cache TTL.
func NewEngineWithTTL(store storage.EpisodeStore, ttl time.Duration, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		store: store,
		cache: newResultCache(ttl),
		log:   logger,
	}
}

// InvalidateCache drops every cached result. Called after any mutation to
// episodes, tags, or relations.
func (e *Engine) InvalidateCache() {
	e.cache.Invalidate()
}

// Search ranks episodes for the request. Empty queries are legal and return
// the most recent episodes subject to filters.
func (e *Engine) Search(ctx context.Context, req Request) ([]Hit, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	switch req.Mode {
	case ModeKeyword, ModeSemantic, ModeHybrid:
	default:
		return nil, fmt.Errorf("%w: unknown search mode %q", storage.ErrBadQuery, req.Mode)
	}

	key := e.cache.Key(req)
	if hits, ok := e.cache.Get(key); ok {
		return hits, nil
	}

	kq, err := parseKeywordQuery(req.Query, req.Operator)
	if err != nil {
		return nil, err
	}

	episodes, err := e.collectCandidates(ctx, req.Filters)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	switch {
	case kq.empty():
		hits = recentHits(episodes, req.Mode)
	case req.Mode == ModeKeyword:
		hits = e.rankKeyword(episodes, kq)
	case req.Mode == ModeSemantic:
		hits = e.rankSemantic(episodes, req.Query)
	default:
		hits = e.rankHybrid(episodes, kq, req.Query)
	}

	sortHits(hits)
	if len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}

	e.cache.Put(key, hits)
	return hits, nil
}

// collectCandidates pages through every non-deleted episode matching the
// filters. The corpus is small enough that a full scan is adequate.
func (e *Engine) collectCandidates(ctx context.Context, filters storage.ListOptions) ([]types.Episode, error) {
	opts := filters
	opts.IncludeDeleted = false
	opts.OnlyDeleted = false
	opts.SortBy = "created_at"
	opts.SortOrder = "desc"
	opts.Limit = 100
	opts.Page = 1

	var all []types.Episode
	for {
		page, err := e.store.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if !page.HasMore {
			return all, nil
		}
		opts.Page++
	}
}

func (e *Engine) rankKeyword(episodes []types.Episode, kq keywordQuery) []Hit {
	var hits []Hit
	for _, ep := range episodes {
		if kq.matches(ep) {
			hits = append(hits, Hit{Episode: ep, Score: 1.0, Mode: ModeKeyword})
		}
	}
	return hits
}

func (e *Engine) rankSemantic(episodes []types.Episode, query string) []Hit {
	queryVec := embedding.FastVector(query)
	hits := make([]Hit, 0, len(episodes))
	for _, ep := range episodes {
		sim := embedding.Cosine(queryVec, ep.Embedding)
		hits = append(hits, Hit{Episode: ep, Score: sim, Mode: ModeSemantic})
	}
	return hits
}

// rankHybrid restricts to keyword matches and averages keyword and semantic
// scores. Keyword contributes 1.0 to every surviving row, so the final score
// is (1 + similarity) / 2. When keyword matches nothing, the whole corpus is
// ranked with the keyword term contributing 0.
func (e *Engine) rankHybrid(episodes []types.Episode, kq keywordQuery, query string) []Hit {
	queryVec := embedding.FastVector(query)

	var hits []Hit
	for _, ep := range episodes {
		if !kq.matches(ep) {
			continue
		}
		sim := embedding.Cosine(queryVec, ep.Embedding)
		hits = append(hits, Hit{Episode: ep, Score: (1 + sim) / 2, Mode: ModeHybrid})
	}
	if len(hits) > 0 {
		return hits
	}

	hits = make([]Hit, 0, len(episodes))
	for _, ep := range episodes {
		sim := embedding.Cosine(queryVec, ep.Embedding)
		hits = append(hits, Hit{Episode: ep, Score: sim / 2, Mode: ModeHybrid})
	}
	return hits
}

// recentHits maps episodes to zero-score hits; the tie-break keeps the
// newest-first ordering.
func recentHits(episodes []types.Episode, mode Mode) []Hit {
	hits := make([]Hit, 0, len(episodes))
	for _, ep := range episodes {
		hits = append(hits, Hit{Episode: ep, Mode: mode})
	}
	return hits
}

// sortHits orders by score descending, then newer created_at, then smaller id.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Episode.CreatedAt.Equal(hits[j].Episode.CreatedAt) {
			return hits[i].Episode.CreatedAt.After(hits[j].Episode.CreatedAt)
		}
		return hits[i].Episode.ID < hits[j].Episode.ID
	})
}

// keywordQuery is a parsed keyword expression: at most one operator joining
// plain substring terms.
type keywordQuery struct {
	op    string // "", "and", "or", "not"
	terms []string
}

func (q keywordQuery) empty() bool {
	return len(q.terms) == 0
}

func (q keywordQuery) matches(ep types.Episode) bool {
	haystack := strings.ToLower(ep.Name + " " + ep.Content)
	switch q.op {
	case "not":
		return !strings.Contains(haystack, q.terms[0])
	case "or":
		for _, t := range q.terms {
			if strings.Contains(haystack, t) {
				return true
			}
		}
		return false
	default: // "and" and the single-term case
		for _, t := range q.terms {
			if !strings.Contains(haystack, t) {
				return false
			}
		}
		return true
	}
}

// parseKeywordQuery tokenizes the query string and extracts at most one
// operator. Mixed or repeated operators violate the grammar.
func parseKeywordQuery(query, operator string) (keywordQuery, error) {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return keywordQuery{}, nil
	}

	if operator != "" {
		op := strings.ToLower(operator)
		if op != "and" && op != "or" && op != "not" {
			return keywordQuery{}, fmt.Errorf("%w: unknown operator %q", storage.ErrBadQuery, operator)
		}
		terms := lowerAll(fields)
		if op == "not" && len(terms) != 1 {
			return keywordQuery{}, fmt.Errorf("%w: NOT takes exactly one term", storage.ErrBadQuery)
		}
		return keywordQuery{op: op, terms: terms}, nil
	}

	var op string
	var terms []string
	for i, f := range fields {
		switch f {
		case "AND", "OR":
			if op != "" {
				return keywordQuery{}, fmt.Errorf("%w: multiple operators in query", storage.ErrBadQuery)
			}
			if i == 0 || i == len(fields)-1 {
				return keywordQuery{}, fmt.Errorf("%w: operator %s needs terms on both sides", storage.ErrBadQuery, f)
			}
			op = strings.ToLower(f)
		case "NOT":
			if op != "" || i != 0 {
				return keywordQuery{}, fmt.Errorf("%w: NOT must lead the query", storage.ErrBadQuery)
			}
			op = "not"
		default:
			terms = append(terms, strings.ToLower(f))
		}
	}

	if op == "not" && len(terms) != 1 {
		return keywordQuery{}, fmt.Errorf("%w: NOT takes exactly one term", storage.ErrBadQuery)
	}
	if (op == "and" || op == "or") && len(terms) < 2 {
		return keywordQuery{}, fmt.Errorf("%w: operator %s needs two terms", storage.ErrBadQuery, strings.ToUpper(op))
	}
	if op == "" && len(terms) > 1 {
		// A bare multi-word query matches as a phrase, not implicit AND.
		terms = []string{strings.ToLower(strings.Join(fields, " "))}
	}
	if len(terms) == 0 {
		return keywordQuery{}, nil
	}
	return keywordQuery{op: op, terms: terms}, nil
}

func lowerAll(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.ToLower(f)
	}
	return out
}
