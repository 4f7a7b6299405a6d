package search

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a ranked result stays valid without a write.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	hits    []Hit
	expires time.Time
}

// resultCache memoizes ranked results keyed by the normalized request.
// Invalidation is wholesale: the cache is not load-bearing and partial
// invalidation is not worth the bookkeeping.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration

	// now is overridable in tests.
	now func() time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Key derives the cache key from the normalized query, limit, mode, operator,
// and the filter set.
func (c *resultCache) Key(req Request) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(req.Query), " "))
	filtersJSON, _ := json.Marshal(req.Filters)
	keyJSON, _ := json.Marshal(map[string]interface{}{
		"q":       normalized,
		"limit":   req.Limit,
		"mode":    string(req.Mode),
		"op":      strings.ToLower(req.Operator),
		"filters": string(filtersJSON),
	})
	return string(keyJSON)
}

func (c *resultCache) Get(key string) ([]Hit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.hits, true
}

func (c *resultCache) Put(key string, hits []Hit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{hits: hits, expires: c.now().Add(c.ttl)}
}

// Invalidate drops every entry.
func (c *resultCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len reports the live entry count.
func (c *resultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
