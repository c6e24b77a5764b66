package dedup

import (
	"context"
	"sort"
	"sync"
	"time"
)

// maxSweepInterval caps the periodic sweep period.
const maxSweepInterval = time.Minute

type entry struct {
	timestamp  time.Time
	deliveryID string
}

// MemoryCache is the in-process Checker: TTL expiry with lazy probe
// eviction, a periodic sweep, and an overflow trim keeping the newest
// entries.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[string]entry
	ttl      time.Duration
	capacity int

	// now is replaceable in tests.
	now func() time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCapacity overrides the entry bound.
func WithCapacity(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// NewMemoryCache creates a cache with the default TTL and capacity.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		entries:  make(map[string]entry),
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsDuplicate reports whether this (payload, deliveryID) pair was seen
// within the TTL, recording it when not. Expired entries encountered on
// probe are removed.
func (c *MemoryCache) IsDuplicate(_ context.Context, payload []byte, deliveryID string) (bool, error) {
	key := Key(payload, deliveryID)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if now.Sub(e.timestamp) < c.ttl {
			return true, nil
		}
		delete(c.entries, key)
	}

	c.entries[key] = entry{timestamp: now, deliveryID: deliveryID}
	if len(c.entries) > c.capacity {
		c.trim()
	}
	return false, nil
}

// Stats returns current counters.
func (c *MemoryCache) Stats(context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:       len(c.entries),
		MaxEntries: c.capacity,
		TTLMs:      c.ttl.Milliseconds(),
	}, nil
}

// Run sweeps expired entries every min(ttl/2, 60s) until the context is
// cancelled.
func (c *MemoryCache) Run(ctx context.Context) {
	interval := c.ttl / 2
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.entries {
		if now.Sub(e.timestamp) >= c.ttl {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// trim drops the oldest entries by timestamp until the cache fits. Caller
// holds the lock.
func (c *MemoryCache) trim() {
	type aged struct {
		key string
		ts  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, ts: e.timestamp})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })

	for _, a := range all[:len(all)-c.capacity] {
		delete(c.entries, a.key)
	}
}
