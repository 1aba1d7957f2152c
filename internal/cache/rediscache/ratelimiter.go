package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter budgets upstream yard API fetches per category. Keys are
// minute-bucketed, so the window TTL only needs to be set once per bucket.
type RateLimiter struct {
	c *redis.Client
}

func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{c: newClient(addr)}
}

// Allow increments the bucket counter and reports whether the caller is
// still under limit. INCR and EXPIRE NX ship in one pipeline, so a
// bucket can never be left without a TTL; repeat calls never extend the
// window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	var incr *redis.IntCmd
	_, err := rl.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit incr")
	}
	n := incr.Val()
	return n <= limit, n, nil
}
