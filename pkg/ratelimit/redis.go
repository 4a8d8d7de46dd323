package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter whose counters live in Redis, so that
// several proxy processes share one quota per client.
type Redis struct {
	client goredis.UniversalClient
	max    int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedis creates a limiter using client. Keys are "<prefix><client>:<window start>".
func NewRedis(client goredis.UniversalClient, max int, window time.Duration) *Redis {
	return &Redis{
		client: client,
		max:    max,
		window: window,
		prefix: "ratelimit:",
		now:    time.Now,
	}
}

// Allow increments the client's counter for the current window.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	start := windowStart(r.now(), r.window)
	redisKey := r.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, r.window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}

	return decide(incr.Val(), r.max, start.Add(r.window)), nil
}

var _ Limiter = (*Redis)(nil)
