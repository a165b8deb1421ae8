package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultTTL is how long a cached search result stays valid.
	DefaultTTL = time.Hour
	// DefaultSize bounds the number of cached entries.
	DefaultSize = 1000
)

// Cache is a concurrency-safe, size-bounded TTL cache. Concurrent writers to
// the same key are last-write-wins.
type Cache[V any] struct {
	lru    *expirable.LRU[string, V]
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// New creates a cache holding at most size entries for ttl each. Non-positive
// values fall back to DefaultSize and DefaultTTL.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		lru: expirable.NewLRU[string, V](size, nil, ttl),
		ttl: ttl,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores value under key, replacing any previous entry.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Remove drops key from the cache.
func (c *Cache[V]) Remove(key string) {
	c.lru.Remove(key)
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// TTL returns the configured entry lifetime.
func (c *Cache[V]) TTL() time.Duration {
	return c.ttl
}

// Stats returns hit and miss counts since creation and the live entry count.
func (c *Cache[V]) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.lru.Len()}
}
