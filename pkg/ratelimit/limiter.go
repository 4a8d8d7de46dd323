// Package ratelimit bounds how many requests each client may make per fixed window.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLimited is returned by Check when a client has exhausted its window quota.
var ErrLimited = errors.New("rate limit exceeded")

// Decision is the outcome of counting one request.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per client key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Check returns ErrLimited when the decision rejects the request.
func Check(ctx context.Context, l Limiter, key string) (Decision, error) {
	d, err := l.Allow(ctx, key)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, ErrLimited
	}
	return d, nil
}

// windowStart aligns t to the start of its fixed window.
func windowStart(t time.Time, window time.Duration) time.Time {
	return t.Truncate(window)
}

func decide(count int64, max int, reset time.Time) Decision {
	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(max),
		Limit:     max,
		Remaining: remaining,
		ResetAt:   reset,
	}
}

type counter struct {
	start time.Time
	count int64
}

// FixedWindow is an in-process fixed-window limiter.
type FixedWindow struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	counters  map[string]*counter
	lastPrune time.Time
}

// NewFixedWindow allows max requests per key in each window.
func NewFixedWindow(max int, window time.Duration) *FixedWindow {
	if max <= 0 {
		max = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindow{
		max:      max,
		window:   window,
		now:      time.Now,
		counters: make(map[string]*counter),
	}
}

// Allow counts one request for key.
func (f *FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := f.now()
	start := windowStart(now, f.window)

	f.mu.Lock()
	defer f.mu.Unlock()

	f.pruneLocked(start)

	c, ok := f.counters[key]
	if !ok || !c.start.Equal(start) {
		c = &counter{start: start}
		f.counters[key] = c
	}
	c.count++

	return decide(c.count, f.max, start.Add(f.window)), nil
}

// Reset clears every counter.
func (f *FixedWindow) Reset() {
	f.mu.Lock()
	f.counters = make(map[string]*counter)
	f.mu.Unlock()
}

// pruneLocked drops counters from past windows, at most once per window.
func (f *FixedWindow) pruneLocked(current time.Time) {
	if !f.lastPrune.Before(current) {
		return
	}
	for k, c := range f.counters {
		if c.start.Before(current) {
			delete(f.counters, k)
		}
	}
	f.lastPrune = current
}

var _ Limiter = (*FixedWindow)(nil)
