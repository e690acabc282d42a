package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "prism:ratelimit:"

// Redis is a fixed-window limiter backed by Redis, for deployments
// where several prism processes share one tenant's API quota.
// INCR is atomic, so concurrent checkers across processes cannot
// overshoot the limit.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedis creates a Redis-backed limiter allowing limit checks per
// window per tenant key.
func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{
		client: client,
		limit:  limit,
		window: window,
	}
}

// key builds the per-tenant, per-window counter key.
func (r *Redis) key(tenantKey string, now time.Time) string {
	return fmt.Sprintf("%s%s:%d", rateLimitKeyPrefix, tenantKey, now.Unix()/int64(r.window.Seconds()))
}

// Check consumes one unit of the tenant's quota if available.
func (r *Redis) Check(ctx context.Context, tenantKey string) (bool, error) {
	key := r.key(tenantKey, time.Now())

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: incr failed: %w", err)
	}

	// First checker in the window owns setting the expiry.
	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: expire failed: %w", err)
		}
	}

	return count <= int64(r.limit), nil
}
