// Package cache provides the redis-backed dispatch guard. When more
// than one process runs the reminder tick, SetNX decides which one
// actually sends.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const guardKeyTTL = 24 * time.Hour

// RedisGuard claims fire slots via SET NX with a TTL long enough to
// outlive any reminder cadence step.
type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, key, 1, guardKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// NoopGuard always grants the claim. Used when REDIS_ADDR is unset and
// a single process owns the scheduler.
type NoopGuard struct{}

func (NoopGuard) Acquire(context.Context, string) (bool, error) { return true, nil }
