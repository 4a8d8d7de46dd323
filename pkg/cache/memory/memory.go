// Package memory is an in-process cache.Store for single-instance deployments and tests.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pario-ai/predictgate/pkg/cache"
	"github.com/pario-ai/predictgate/pkg/models"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a map-backed store with lazy expiry and an optional janitor.
// It has no capacity bound; entries leave only when they expire.
type Cache struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache. When sweepInterval is positive a background goroutine
// removes expired entries at that interval until Close is called.
func New(sweepInterval time.Duration, opts ...Option) *Cache {
	c := &Cache{
		items: make(map[string]entry),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if sweepInterval > 0 {
		c.wg.Add(1)
		go c.janitor(sweepInterval)
	}
	return c
}

// Get returns the value for key, or cache.ErrNotFound if absent or expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, cache.ErrNotFound
	}
	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check: a concurrent Set may have refreshed the entry.
		if cur, ok := c.items[key]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, cache.ErrNotFound
	}

	c.hits.Add(1)
	return e.value, nil
}

// Set stores value under key until ttl elapses.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)

	c.mu.Lock()
	c.items[key] = entry{value: v, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.items {
		if !now.Before(e.expiresAt) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Stats reports entry count and hit/miss counters.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	return models.CacheStats{
		Backend: "memory",
		Entries: int64(c.Len()),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes expired entries, or all entries when expiredOnly is false.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) error {
	if expiredOnly {
		c.Sweep()
		return nil
	}
	c.mu.Lock()
	c.items = make(map[string]entry)
	c.mu.Unlock()
	return nil
}

// Close stops the janitor. The cache stays usable afterwards.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return nil
}

func (c *Cache) janitor(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

var (
	_ cache.Store     = (*Cache)(nil)
	_ cache.Inspector = (*Cache)(nil)
)
