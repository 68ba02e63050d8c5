package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"hostlink-platform/pkg/utils"
)

// redisSessionGate caps concurrent active sessions per host across API
// instances. Advisory: failures are reported upward and ignored there.
type redisSessionGate struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func newRedisSessionGate(rdb *redis.Client, limit int) *redisSessionGate {
	if limit <= 0 {
		limit = 1
	}
	return &redisSessionGate{rdb: rdb, limit: limit, ttl: 4 * time.Hour}
}

func (g *redisSessionGate) Acquire(ctx context.Context, hostID string) (bool, error) {
	return utils.AcquireActiveCallSlot(ctx, g.rdb, hostID, g.limit, g.ttl)
}

func (g *redisSessionGate) Release(ctx context.Context, hostID string) error {
	return utils.ReleaseActiveCallSlot(ctx, g.rdb, hostID)
}
