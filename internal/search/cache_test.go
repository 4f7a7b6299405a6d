package search

import (
	"testing"
	"time"

	"github.com/engram-sh/engram/internal/storage"
)

func TestResultCache_KeyNormalization(t *testing.T) {
	cache := newResultCache(time.Minute)

	a := cache.Key(Request{Query: "Quick  Brown   Fox", Limit: 10, Mode: ModeHybrid})
	b := cache.Key(Request{Query: "quick brown fox", Limit: 10, Mode: ModeHybrid})
	if a != b {
		t.Error("case and whitespace must not change the cache key")
	}

	c := cache.Key(Request{Query: "quick brown fox", Limit: 20, Mode: ModeHybrid})
	if a == c {
		t.Error("limit must be part of the cache key")
	}

	d := cache.Key(Request{Query: "quick brown fox", Limit: 10, Mode: ModeKeyword})
	if a == d {
		t.Error("mode must be part of the cache key")
	}

	e := cache.Key(Request{
		Query: "quick brown fox", Limit: 10, Mode: ModeHybrid,
		Filters: storage.ListOptions{Category: "work"},
	})
	if a == e {
		t.Error("filters must be part of the cache key")
	}
}

func TestResultCache_TTLExpiry(t *testing.T) {
	cache := newResultCache(time.Minute)
	current := time.Unix(1700000000, 0)
	cache.now = func() time.Time { return current }

	cache.Put("k", []Hit{{Score: 1}})
	if _, ok := cache.Get("k"); !ok {
		t.Fatal("expected fresh entry to be served")
	}

	current = current.Add(time.Minute + time.Second)
	if _, ok := cache.Get("k"); ok {
		t.Error("expected entry to expire after the TTL")
	}
	if cache.Len() != 0 {
		t.Errorf("expired entry must be evicted on read, len=%d", cache.Len())
	}
}

func TestResultCache_Invalidate(t *testing.T) {
	cache := newResultCache(time.Minute)
	cache.Put("a", nil)
	cache.Put("b", nil)

	cache.Invalidate()
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, len=%d", cache.Len())
	}
	if _, ok := cache.Get("a"); ok {
		t.Error("invalidated entry still served")
	}
}

func TestResultCache_ZeroTTLUsesDefault(t *testing.T) {
	cache := newResultCache(0)
	if cache.ttl != DefaultCacheTTL {
		t.Errorf("expected default TTL, got %v", cache.ttl)
	}
}
