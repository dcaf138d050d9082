// Package cache provides the read-through caching tiers at the indicator
// and backtest boundaries: an in-process TTL cache plus an optional Redis
// layer. Computation is deterministic, so concurrent misses racing on the
// same key converge to the same value.
package cache

import (
	"sync"
	"time"
)

// Stats summarises cache effectiveness.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// TTLCache is an in-process cache with time-based expiration and LRU
// eviction once maxEntries is reached.
type TTLCache struct {
	mu         sync.RWMutex
	entries    map[string]*ttlEntry
	maxEntries int
	hits       int64
	misses     int64
	evictions  int64
	now        func() time.Time
}

type ttlEntry struct {
	value    interface{}
	expires  time.Time
	accessed time.Time
}

// NewTTLCache creates a TTL cache capped at maxEntries.
func NewTTLCache(maxEntries int) *TTLCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &TTLCache{
		entries:    make(map[string]*ttlEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached value when present and unexpired.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expires) {
		if ok {
			delete(c.entries, key)
		}
		c.misses++
		return nil, false
	}
	entry.accessed = c.now()
	c.hits++
	return entry.value, true
}

// Set stores value under key for ttl, evicting the least recently used
// entry when the cache is full.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}
	c.entries[key] = &ttlEntry{
		value:    value,
		expires:  c.now().Add(ttl),
		accessed: c.now(),
	}
}

// Invalidate removes key from the cache.
func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Stats returns a point-in-time view of cache counters.
func (c *TTLCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}

// evictLRU drops the least recently accessed entry. Caller holds the lock.
func (c *TTLCache) evictLRU() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.accessed.Before(oldest) {
			oldestKey = key
			oldest = entry.accessed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}
