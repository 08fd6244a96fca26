package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/goAbuse/internal/stores"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	scriptStatusCorrupt   = -1
	scriptStatusBlocked   = 0
	scriptStatusAllowed   = 1
	scriptStatusEscalated = 2
)

// KEYS[1] block key, KEYS[2] attempt key.
// ARGV: now, member, temp range, temp attempts, temp duration,
// long range, long attempts, long duration, retention.
const evaluateScript = `
local now = tonumber(ARGV[1])
local member = ARGV[2]
local temp_range = tonumber(ARGV[3])
local temp_attempts = tonumber(ARGV[4])
local temp_duration = tonumber(ARGV[5])
local long_range = tonumber(ARGV[6])
local long_attempts = tonumber(ARGV[7])
local long_duration = tonumber(ARGV[8])
local retention = tonumber(ARGV[9])

local evicted = 0
local raw = redis.call("GET", KEYS[1])
if raw then
  local version, tier, untl = string.match(raw, "^(%d+):(%d+):(%-?%d+)$")
  if version ~= "1" or (tier ~= "1" and tier ~= "2") then
    return {-1}
  end
  untl = tonumber(untl)
  if now < untl then
    return {0, tonumber(tier), untl, 0, 0, 0}
  end
  redis.call("DEL", KEYS[1])
  evicted = 1
end

redis.call("ZADD", KEYS[2], now, member)
redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", "(" .. string.format("%d", now - retention))
redis.call("EXPIRE", KEYS[2], retention)

local short = redis.call("ZCOUNT", KEYS[2], now - temp_range, now)
local long = redis.call("ZCOUNT", KEYS[2], now - long_range, now)

local tier = 0
local blocked_until = 0
if long > long_attempts then
  tier = 2
  blocked_until = now + long_duration
elseif short > temp_attempts then
  tier = 1
  blocked_until = now + temp_duration
end

if tier == 0 then
  return {1, 0, 0, short, long, evicted}
end

local ttl = blocked_until - now
if ttl < 1 then
  ttl = 1
end
redis.call("SET", KEYS[1], string.format("1:%d:%d", tier, blocked_until), "EX", ttl)
return {2, tier, blocked_until, short, long, evicted}
`

var evaluateLua = redis.NewScript(evaluateScript)

// Script evaluates policies atomically inside Redis. It reads and writes the
// same keys as the Redis stores it is built from, so both evaluators can be
// mixed over one keyspace.
type Script struct {
	redis    redis.UniversalClient
	attempts *stores.RedisAttemptLog
	blocks   *stores.RedisBlockRegistry
	newID    func() uuid.UUID
}

// NewScript creates an atomic evaluator sharing key layout with attempts and
// blocks.
func NewScript(redisClient redis.UniversalClient, attempts *stores.RedisAttemptLog, blocks *stores.RedisBlockRegistry) *Script {
	return &Script{
		redis:    redisClient,
		attempts: attempts,
		blocks:   blocks,
		newID:    uuid.New,
	}
}

// WithIDSource overrides the attempt member tiebreaker source.
func (s *Script) WithIDSource(fn func() uuid.UUID) *Script {
	if fn != nil {
		s.newID = fn
	}
	return s
}

// Evaluate runs the protocol for key at now in a single EVALSHA.
func (s *Script) Evaluate(ctx context.Context, key string, p Policy, now time.Time) (Result, error) {
	raw, err := evaluateLua.Run(
		ctx,
		s.redis,
		[]string{s.blocks.Key(key), s.attempts.Key(key)},
		now.Unix(),
		stores.AttemptMember(now, s.newID()),
		seconds(p.TempRange),
		p.TempAttempts,
		seconds(p.TempDuration),
		seconds(p.LongRange),
		p.LongAttempts,
		seconds(p.LongDuration),
		seconds(p.Retention()),
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", stores.ErrUnavailable, err)
	}

	parts, ok := raw.([]interface{})
	if !ok || len(parts) == 0 {
		return Result{}, fmt.Errorf("%w: invalid limiter script response", stores.ErrUnavailable)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return Result{}, fmt.Errorf("%w: invalid limiter script status", stores.ErrUnavailable)
	}
	if status == scriptStatusCorrupt {
		return Result{}, stores.ErrCorruptRecord
	}
	if len(parts) < 6 {
		return Result{}, fmt.Errorf("%w: short limiter script response", stores.ErrUnavailable)
	}

	fields := make([]int64, 5)
	for i := range fields {
		v, ok := parts[i+1].(int64)
		if !ok {
			return Result{}, fmt.Errorf("%w: invalid limiter script field %d", stores.ErrUnavailable, i+1)
		}
		fields[i] = v
	}

	res := Result{
		Tier:       stores.Tier(fields[0]),
		ShortCount: fields[2],
		LongCount:  fields[3],
		Evicted:    fields[4] == 1,
	}
	if res.Tier != stores.TierNone {
		res.BlockedUntil = time.Unix(fields[1], 0)
	}

	switch status {
	case scriptStatusBlocked:
		res.Outcome = OutcomeBlocked
	case scriptStatusAllowed:
		res.Outcome = OutcomeAllowed
	case scriptStatusEscalated:
		res.Outcome = OutcomeEscalated
	default:
		return Result{}, fmt.Errorf("%w: unknown limiter script status", stores.ErrUnavailable)
	}
	return res, nil
}
