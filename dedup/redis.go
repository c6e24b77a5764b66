package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces dedup keys in a shared Redis.
const keyPrefix = "hookflow:dedup:"

// RedisCache is a Checker backed by Redis, for deployments where several
// ingress replicas must share one dedup window. SET NX PX makes the
// probe-and-record step atomic.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an established client.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

// IsDuplicate records the delivery with SET NX: a failed set means a
// non-expired entry already exists.
func (c *RedisCache) IsDuplicate(ctx context.Context, payload []byte, deliveryID string) (bool, error) {
	set, err := c.client.SetNX(ctx, keyPrefix+Key(payload, deliveryID), deliveryID, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup probe: %w", err)
	}
	return !set, nil
}

// Stats counts current dedup keys with SCAN.
func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	var (
		cursor uint64
		size   int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 1000).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("dedup stats: %w", err)
		}
		size += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return Stats{
		Size:       size,
		MaxEntries: 0, // Redis bounds by TTL, not entry count
		TTLMs:      c.ttl.Milliseconds(),
	}, nil
}
