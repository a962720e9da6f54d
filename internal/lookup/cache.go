package lookup

import (
	"context"
	"sync"
	"time"
)

// Cache stores classified results with a per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool)
	Set(ctx context.Context, key string, r Result, ttl time.Duration)
}

// TTLs maps a category to its cache lifetime. A zero or missing entry means
// the category is not cached.
type TTLs map[Category]time.Duration

// DefaultTTLs are the cache lifetimes used when the config leaves them unset.
func DefaultTTLs() TTLs {
	return TTLs{
		CategoryHasBio:       time.Hour,
		CategoryNoBio:        10 * time.Minute,
		CategoryUnregistered: 5 * time.Minute,
		CategoryRateLimit:    time.Minute,
	}
}

type memEntry struct {
	result  Result
	expires time.Time
}

// MemoryCache is an in-process Cache. Expiry is checked on read; Sweep drops
// dead entries in bulk.
type MemoryCache struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memEntry
}

// NewMemoryCache returns an empty cache. now may be nil.
func NewMemoryCache(now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{now: now, entries: map[string]memEntry{}}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		CacheMisses.WithLabelValues("memory").Inc()
		return Result{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		CacheMisses.WithLabelValues("memory").Inc()
		return Result{}, false
	}
	CacheHits.WithLabelValues("memory").Inc()
	return e.result, true
}

func (c *MemoryCache) Set(_ context.Context, key string, r Result, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = memEntry{result: r, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Sweep removes expired entries and returns how many were dropped.
func (c *MemoryCache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
