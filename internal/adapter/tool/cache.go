package tool

import (
	"sync"
	"time"
)

// maxCacheEntries triggers a sweep of expired entries on insert.
const maxCacheEntries = 100

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// resultCache is a small TTL map shared by the network tools.
type resultCache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry[V]
}

func newResultCache[V any](ttl time.Duration) *resultCache[V] {
	return &resultCache[V]{ttl: ttl, now: time.Now, entries: make(map[string]cacheEntry[V])}
}

func (c *resultCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *resultCache[V]) put(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[key] = cacheEntry[V]{value: v, expiresAt: now.Add(c.ttl)}
	if len(c.entries) <= maxCacheEntries {
		return
	}
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
