package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "alerting:dedup:"

// RedisTracker is a Tracker shared across instances. Claims are SET NX with a TTL,
// so eviction is handled by Redis expiry.
type RedisTracker struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisTracker creates a Redis-backed tracker.
func NewRedisTracker(client redis.UniversalClient, retention time.Duration) *RedisTracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisTracker{
		client:    client,
		prefix:    defaultKeyPrefix,
		retention: retention,
	}
}

// ShouldDeliver implements Tracker.
func (t *RedisTracker) ShouldDeliver(ctx context.Context, key Key) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.prefix+key.String(), 1, t.retention).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis SetNX failed: %w", ErrBackendUnavailable, err)
	}
	recordDecision(ok)
	return ok, nil
}

// Forget implements Tracker.
func (t *RedisTracker) Forget(ctx context.Context, key Key) error {
	if err := t.client.Del(ctx, t.prefix+key.String()).Err(); err != nil {
		return fmt.Errorf("%w: redis Del failed: %w", ErrBackendUnavailable, err)
	}
	return nil
}
