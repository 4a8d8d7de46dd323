// Package redis is a cache.Store backed by Redis, for deployments where several
// proxy processes share one cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pario-ai/predictgate/pkg/cache"
	"github.com/pario-ai/predictgate/pkg/models"
)

// Cache stores values with native Redis expiry (SET ... EX).
type Cache struct {
	client  goredis.UniversalClient
	pattern string
	owned   bool
	hits    atomic.Int64
	misses  atomic.Int64
}

// Dial connects to addr and verifies the connection with PING.
// pattern scopes Stats and Clear, e.g. "predict:*".
func Dial(ctx context.Context, opts *goredis.Options, pattern string) (*Cache, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	c := New(client, pattern)
	c.owned = true
	return c, nil
}

// New wraps an existing client. Close does not close a client passed to New.
func New(client goredis.UniversalClient, pattern string) *Cache {
	if pattern == "" {
		pattern = "*"
	}
	return &Cache{client: client, pattern: pattern}
}

// Get returns cache.ErrNotFound when the key does not exist or has expired.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		c.misses.Add(1)
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	c.hits.Add(1)
	return val, nil
}

// Set writes value with a TTL; Redis evicts it when the TTL elapses.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Stats counts keys matching the configured pattern.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	iter := c.client.Scan(ctx, 0, c.pattern, 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return models.CacheStats{}, fmt.Errorf("redis scan: %w", err)
	}
	return models.CacheStats{
		Backend: "redis",
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear deletes keys matching the configured pattern. Redis removes expired
// keys itself, so expiredOnly has nothing left to do. Keys are collected
// before deleting so the SCAN cursor is not disturbed.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) error {
	if expiredOnly {
		return nil
	}
	var keys []string
	iter := c.client.Scan(ctx, 0, c.pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	for len(keys) > 0 {
		n := min(len(keys), 100)
		if err := c.client.Del(ctx, keys[:n]...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		keys = keys[n:]
	}
	return nil
}

// Close closes the client if it was created by Dial.
func (c *Cache) Close() error {
	if c.owned {
		return c.client.Close()
	}
	return nil
}

var (
	_ cache.Store     = (*Cache)(nil)
	_ cache.Inspector = (*Cache)(nil)
)
