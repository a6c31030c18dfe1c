package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis for multi-instance deployments. The
// fixed-window semantics match MemoryStore: INCR within a keyed window whose
// lifetime is the window duration.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Counter, error) {
	fullKey := s.prefix + ":" + key
	now := time.Now()

	count, err := s.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return Counter{}, fmt.Errorf("increment %s: %w", key, err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, fullKey, window).Err(); err != nil {
			return Counter{}, fmt.Errorf("expire %s: %w", key, err)
		}
		return Counter{Count: 1, ResetAt: now.Add(window)}, nil
	}

	ttl, err := s.client.PTTL(ctx, fullKey).Result()
	if err != nil {
		return Counter{}, fmt.Errorf("ttl %s: %w", key, err)
	}
	if ttl < 0 {
		// Key survived without an expiry (e.g. a crashed PEXPIRE); restart
		// the window rather than letting the counter live forever.
		if err := s.client.PExpire(ctx, fullKey, window).Err(); err != nil {
			return Counter{}, fmt.Errorf("expire %s: %w", key, err)
		}
		ttl = window
	}
	return Counter{Count: int(count), ResetAt: now.Add(ttl)}, nil
}

// Sweep is a no-op: Redis evicts expired windows through key TTLs.
func (s *RedisStore) Sweep(context.Context) int { return 0 }
