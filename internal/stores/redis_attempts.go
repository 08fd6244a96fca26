package stores

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultAttemptPrefix = "abuse_limiter:attempts"

// RedisAttemptLog keeps attempts in one sorted set per key.
type RedisAttemptLog struct {
	redis  redis.UniversalClient
	prefix string
	newID  func() uuid.UUID
}

func NewRedisAttemptLog(redisClient redis.UniversalClient, prefix string) *RedisAttemptLog {
	if prefix == "" {
		prefix = defaultAttemptPrefix
	}
	return &RedisAttemptLog{
		redis:  redisClient,
		prefix: prefix,
		newID:  uuid.New,
	}
}

// WithIDSource overrides the member tiebreaker source. Tests use it to pin
// member values.
func (l *RedisAttemptLog) WithIDSource(fn func() uuid.UUID) *RedisAttemptLog {
	if fn != nil {
		l.newID = fn
	}
	return l
}

// Key returns the Redis key holding attempts for key.
func (l *RedisAttemptLog) Key(key string) string {
	return taggedKey(l.prefix, key)
}

func (l *RedisAttemptLog) Record(ctx context.Context, key string, at time.Time, retention time.Duration) error {
	if retention < time.Second {
		retention = time.Second
	}
	k := l.Key(key)
	score := at.Unix()
	cutoff := score - int64(retention/time.Second)

	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(score), Member: AttemptMember(at, l.newID())})
		pipe.ZRemRangeByScore(ctx, k, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, k, retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (l *RedisAttemptLog) CountInRange(ctx context.Context, key string, from, to time.Time) (int64, error) {
	count, err := l.redis.ZCount(ctx, l.Key(key),
		strconv.FormatInt(from.Unix(), 10),
		strconv.FormatInt(to.Unix(), 10)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count, nil
}

func (l *RedisAttemptLog) Clear(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.Key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// taggedKey wraps key in a hash tag so the attempt log and block record of one
// key share a cluster slot. The prefix must not contain '{'.
func taggedKey(prefix, key string) string {
	return prefix + ":{" + key + "}"
}

// AttemptMember builds the sorted-set member for one attempt. The score only
// has second resolution, so the member must be unique on its own.
func AttemptMember(at time.Time, id uuid.UUID) string {
	return strconv.FormatInt(at.UnixNano(), 10) + ":" + id.String()
}
