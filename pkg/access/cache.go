package access

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how long a role or override change can go unnoticed.
const DefaultCacheTTL = 5 * time.Second

// sweepThreshold is the entry count at which expired entries are purged on insert.
const sweepThreshold = 1024

type cacheEntry struct {
	value   any
	err     error
	expires time.Time
}

// ttlCache remembers loads for a short time and collapses concurrent loads of the same key.
// A zero ttl disables caching but still collapses in-flight loads.
type ttlCache struct {
	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	items map[string]cacheEntry
	// gens counts invalidations per key; a load started under an older
	// generation is returned to its callers but not remembered.
	gens  map[string]uint64
	group singleflight.Group
}

func newTTLCache(ttl time.Duration, now func() time.Time) *ttlCache {
	if now == nil {
		now = time.Now
	}
	return &ttlCache{ttl: ttl, now: now, items: make(map[string]cacheEntry), gens: make(map[string]uint64)}
}

// get returns the cached value for key or runs load. Only successful loads
// and not-found results (cacheErr returns true) are remembered. The load is
// shared by every waiting caller, so it does not inherit the first caller's
// cancellation.
func (c *ttlCache) get(ctx context.Context, key string, load func(context.Context) (any, error), cacheErr func(error) bool) (any, error) {
	if c.ttl > 0 {
		c.mu.Lock()
		e, ok := c.items[key]
		c.mu.Unlock()
		if ok && c.now().Before(e.expires) {
			return e.value, e.err
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		gen := c.gens[key]
		c.mu.Unlock()

		v, err := load(context.WithoutCancel(ctx))
		if c.ttl > 0 && (err == nil || cacheErr(err)) {
			c.mu.Lock()
			if c.gens[key] == gen {
				if len(c.items) >= sweepThreshold {
					c.sweepLocked()
				}
				c.items[key] = cacheEntry{value: v, err: err, expires: c.now().Add(c.ttl)}
			}
			c.mu.Unlock()
		}
		return v, err
	})
	return v, err
}

// invalidate drops key so the next read goes to the store.
func (c *ttlCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.gens[key]++
	c.mu.Unlock()
	c.group.Forget(key)
}

func (c *ttlCache) sweepLocked() {
	now := c.now()
	for k, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, k)
		}
	}
}
