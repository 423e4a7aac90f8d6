package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const traceKeyPrefix = "vulngraph:trace:"

// RedisTraceCache keeps trace lookups in Redis.
type RedisTraceCache struct {
	client *redis.Client
}

// NewRedisTraceCache connects to the Redis instance at rawURL, e.g. redis://localhost:6379/0.
func NewRedisTraceCache(rawURL string) (*RedisTraceCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisTraceCache{client: redis.NewClient(opts)}, nil
}

// Get returns the cached trace and whether it was present.
func (c *RedisTraceCache) Get(ctx context.Context, traceID string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, traceKeyPrefix+traceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Set stores a trace for ttl. A zero ttl keeps it without expiry.
func (c *RedisTraceCache) Set(ctx context.Context, traceID string, raw []byte, ttl time.Duration) error {
	return c.client.Set(ctx, traceKeyPrefix+traceID, raw, ttl).Err()
}

// Close releases the connection pool.
func (c *RedisTraceCache) Close() error {
	return c.client.Close()
}
