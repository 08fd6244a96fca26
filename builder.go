package goAbuse

import (
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/goAbuse/internal/audit"
	"github.com/MrEthical07/goAbuse/internal/limiter"
	"github.com/MrEthical07/goAbuse/internal/stores"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	attempts stores.AttemptLog
	blocks   stores.BlockRegistry

	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole config.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects the Redis backend. Any go-redis universal client works:
// single node, sentinel failover or cluster.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStores selects custom store implementations. It takes precedence over
// WithRedis for split-step checks and cannot be combined with Atomic.
func (b *Builder) WithStores(attempts AttemptLog, blocks BlockRegistry) *Builder {
	b.attempts = attempts
	b.blocks = blocks
	return b
}

// WithMemoryStores selects in-process stores. State is not shared between
// processes; use it for tests and single-instance deployments.
func (b *Builder) WithMemoryStores() *Builder {
	return b.WithStores(stores.NewMemoryAttemptLog(), stores.NewMemoryBlockRegistry())
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithPolicy registers a named policy.
func (b *Builder) WithPolicy(name string, cfg PolicyConfig) *Builder {
	if b.config.Policies == nil {
		b.config.Policies = make(map[string]PolicyConfig)
	}
	b.config.Policies[name] = cfg
	return b
}

// WithAtomic toggles single-script checks.
func (b *Builder) WithAtomic(enabled bool) *Builder {
	b.config.Atomic = enabled
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides the decision clock. Tests use it to move time without
// sleeping.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the config and every named policy, then wires the stores.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	custom := b.attempts != nil || b.blocks != nil
	if custom && (b.attempts == nil || b.blocks == nil) {
		return nil, errors.New("WithStores requires both an attempt log and a block registry")
	}
	if !custom && b.redis == nil {
		return nil, errors.New("redis client or stores required")
	}
	if cfg.Atomic && (custom || b.redis == nil) {
		return nil, fmt.Errorf("%w: Atomic requires the Redis backend", ErrInvalidConfig)
	}

	policies := make(map[string]Policy, len(cfg.Policies))
	for name, pc := range cfg.Policies {
		p, err := NewPolicy(pc)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		policies[name] = p
	}

	// -------- STORES --------
	var (
		attempts      = b.attempts
		blocks        = b.blocks
		redisAttempts *stores.RedisAttemptLog
		redisBlocks   *stores.RedisBlockRegistry
	)
	if !custom {
		redisAttempts = stores.NewRedisAttemptLog(b.redis, cfg.KeyNamespace+":attempts")
		redisBlocks = stores.NewRedisBlockRegistry(b.redis, cfg.KeyNamespace+":block")
		attempts, blocks = redisAttempts, redisBlocks
	}

	var breaker *stores.Breaker
	if cfg.Breaker.Enabled {
		breaker = stores.NewBreaker(cfg.KeyNamespace, stores.BreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.OpenTimeout,
		})
		attempts = breaker.WrapAttemptLog(attempts)
		blocks = breaker.WrapBlockRegistry(blocks)
	}

	// -------- EVALUATOR --------
	var eval limiter.Evaluator = limiter.NewTiered(attempts, blocks)
	if cfg.Atomic {
		eval = limiter.NewScript(b.redis, redisAttempts, redisBlocks)
		if breaker != nil {
			eval = breakerEvaluator{breaker: breaker, next: eval}
		}
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	engine := &Engine{
		config:   cfg,
		policies: policies,
		eval:     eval,
		attempts: attempts,
		blocks:   blocks,
		breaker:  breaker,
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
		now:     clock,
	}

	b.built = true

	return engine, nil
}
