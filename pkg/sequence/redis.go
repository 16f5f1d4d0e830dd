package sequence

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "gymowl:seq:"

// RedisSequence backs counters with Redis INCR, which is atomic across
// every process sharing the Redis instance
type RedisSequence struct {
	client *redis.Client
	prefix string
}

// NewRedisSequence creates a RedisSequence. An empty prefix uses "gymowl:seq:".
func NewRedisSequence(client *redis.Client, prefix string) *RedisSequence {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisSequence{client: client, prefix: prefix}
}

func (s *RedisSequence) key(name string) string {
	return s.prefix + name
}

// Next increments and returns the named counter
func (s *RedisSequence) Next(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("sequence name is required")
	}
	v, err := s.client.Incr(ctx, s.key(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr failed: %w", err)
	}
	return v, nil
}

// Seed sets the counter to value unless it already exists. Used when moving
// invoice numbering from Postgres to Redis so numbers keep increasing.
func (s *RedisSequence) Seed(ctx context.Context, name string, value int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(name), value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}
