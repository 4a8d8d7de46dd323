// Package cache defines the key-value store that memoizes inference results.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/pario-ai/predictgate/pkg/models"
)

// ErrNotFound is returned by Get when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is a key-value store with per-entry expiry.
//
// Implementations must be safe for concurrent use. Get returns ErrNotFound for
// missing or expired keys and any other error when the backend is unreachable.
// Set overwrites existing entries.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Inspector is implemented by stores that can report and clear their contents.
type Inspector interface {
	Stats(ctx context.Context) (models.CacheStats, error)
	Clear(ctx context.Context, expiredOnly bool) error
}

// Prefixed namespaces every key of s with prefix.
func Prefixed(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{Store: s, prefix: prefix}
}

type prefixed struct {
	Store
	prefix string
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.Store.Set(ctx, p.prefix+key, value, ttl)
}

// Stats forwards to the wrapped store when it is an Inspector.
func (p *prefixed) Stats(ctx context.Context) (models.CacheStats, error) {
	if in, ok := p.Store.(Inspector); ok {
		return in.Stats(ctx)
	}
	return models.CacheStats{}, errors.ErrUnsupported
}

// Clear forwards to the wrapped store when it is an Inspector.
func (p *prefixed) Clear(ctx context.Context, expiredOnly bool) error {
	if in, ok := p.Store.(Inspector); ok {
		return in.Clear(ctx, expiredOnly)
	}
	return errors.ErrUnsupported
}
