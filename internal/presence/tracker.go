package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:host:"

// Tracker keeps a TTL-backed online flag per host in Redis. A host is online
// while its key exists; missed heartbeats let the key lapse, so a crashed
// client goes offline without any explicit teardown.
type Tracker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewTracker(rdb *redis.Client, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Tracker{rdb: rdb, ttl: ttl}
}

func key(hostID string) string { return keyPrefix + hostID }

func (t *Tracker) SetOnline(ctx context.Context, hostID string) error {
	return t.rdb.Set(ctx, key(hostID), "1", t.ttl).Err()
}

// Heartbeat extends the TTL without resetting the value.
func (t *Tracker) Heartbeat(ctx context.Context, hostID string) error {
	ok, err := t.rdb.Expire(ctx, key(hostID), t.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		// Key already lapsed; re-establish it.
		return t.SetOnline(ctx, hostID)
	}
	return nil
}

func (t *Tracker) SetOffline(ctx context.Context, hostID string) error {
	return t.rdb.Del(ctx, key(hostID)).Err()
}

func (t *Tracker) IsOnline(ctx context.Context, hostID string) (bool, error) {
	n, err := t.rdb.Exists(ctx, key(hostID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
