package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultBlockPrefix = "abuse_limiter:block"

// RedisBlockRegistry stores one expiring string per blocked key.
type RedisBlockRegistry struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisBlockRegistry(redisClient redis.UniversalClient, prefix string) *RedisBlockRegistry {
	if prefix == "" {
		prefix = defaultBlockPrefix
	}
	return &RedisBlockRegistry{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Key returns the Redis key holding the block record for key.
func (r *RedisBlockRegistry) Key(key string) string {
	return taggedKey(r.prefix, key)
}

func (r *RedisBlockRegistry) Get(ctx context.Context, key string) (BlockRecord, bool, error) {
	data, err := r.redis.Get(ctx, r.Key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return BlockRecord{}, false, nil
		}
		return BlockRecord{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	record, err := decodeBlockRecord(key, data)
	if err != nil {
		return BlockRecord{}, false, err
	}
	return record, true, nil
}

func (r *RedisBlockRegistry) Set(ctx context.Context, record BlockRecord, now time.Time) error {
	ttl := blockTTL(record.BlockedUntil, now)
	if err := r.redis.Set(ctx, r.Key(record.Key), encodeBlockRecord(record), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisBlockRegistry) Delete(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.Key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
