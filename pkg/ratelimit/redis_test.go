package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T, max int) (*Redis, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC)
	l := NewRedis(client, max, time.Minute)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func TestRedisQuota(t *testing.T) {
	l, mr, _ := newTestRedis(t, 30)
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		d, err := l.Allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	d, err := l.Allow(ctx, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed {
		t.Error("request 31 should be rejected")
	}

	key := "ratelimit:10.0.0.1:" + "1767268800"
	if !mr.Exists(key) {
		t.Fatalf("expected counter key %s, have %v", key, mr.Keys())
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected counter TTL within one window, got %v", ttl)
	}
}

func TestRedisWindowReset(t *testing.T) {
	l, _, now := newTestRedis(t, 1)
	ctx := context.Background()

	l.Allow(ctx, "c")
	if d, _ := l.Allow(ctx, "c"); d.Allowed {
		t.Fatal("second request should be rejected")
	}

	*now = now.Add(time.Minute)
	if d, _ := l.Allow(ctx, "c"); !d.Allowed {
		t.Error("new window should reset the quota")
	}
}

func TestRedisUnavailable(t *testing.T) {
	l, mr, _ := newTestRedis(t, 1)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := l.Allow(ctx, "c"); err == nil {
		t.Error("expected error when redis is down")
	}
}
