// Package cache provides the in-memory TTL/LRU caches used by the search
// client and the PDF extractor. Caches are constructed explicitly and
// injected, never shared as package-level singletons, so tests can isolate
// them and the stats surface can observe them.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a TTL-bounded LRU cache with hit/miss accounting. Entries are
// evicted by TTL expiry or capacity pressure; there is no explicit
// invalidation API.
type Cache[V any] struct {
	name   string
	lru    *expirable.LRU[string, V]
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache holding up to capacity entries for at most ttl.
func New[V any](name string, capacity int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		name: name,
		lru:  expirable.NewLRU[string, V](capacity, nil, ttl),
	}
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores value under key, refreshing its TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Name    string  `json:"name"`
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns hit/miss counters since construction.
func (c *Cache[V]) Stats() Stats {
	h, m := c.hits.Load(), c.misses.Load()
	var rate float64
	if h+m > 0 {
		rate = float64(h) / float64(h+m)
	}
	return Stats{
		Name:    c.name,
		Entries: c.lru.Len(),
		Hits:    h,
		Misses:  m,
		HitRate: rate,
	}
}
