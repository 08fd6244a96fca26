package goAbuse

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/goAbuse/internal/limiter"
)

// Config holds engine-wide settings. Thresholds live in [PolicyConfig] values,
// which are passed to every check or registered by name in Policies.
type Config struct {
	// KeyNamespace prefixes every store key: "<ns>:attempts:{<key>}" and
	// "<ns>:block:{<key>}". The braces keep both keys in one cluster slot.
	KeyNamespace string `mapstructure:"key_namespace"`
	// Atomic runs each check as a single Redis script. Requires WithRedis.
	Atomic bool `mapstructure:"atomic"`

	Messages MessagesConfig `mapstructure:"messages"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`

	Policies map[string]PolicyConfig `mapstructure:"policies"`
}

// MessagesConfig holds the human-readable text returned with a denial.
type MessagesConfig struct {
	// Temporary is returned when a call trips the temporary tier.
	Temporary string `mapstructure:"temporary"`
	// Extended is returned when a call trips the extended tier.
	Extended string `mapstructure:"extended"`
	// Blocked, when set, replaces the tier message for calls refused by an
	// existing block. Empty keeps the tier message.
	Blocked string `mapstructure:"blocked"`
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// BreakerConfig controls the store circuit breaker. When open, checks fail
// immediately with ErrStoreUnavailable instead of waiting on a dead backend.
type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// PolicyConfig tunes one protected action. All durations have second
// resolution.
type PolicyConfig struct {
	// KeyPrefix is prepended to caller keys, "<prefix>:<key>". Empty means keys
	// are used as-is.
	KeyPrefix string `mapstructure:"key_prefix"`

	TempBlockAttempts int           `mapstructure:"temp_block_attempts"`
	TempBlockRange    time.Duration `mapstructure:"temp_block_range"`
	TempBlockDuration time.Duration `mapstructure:"temp_block_duration"`

	BlockRetryLimit int           `mapstructure:"block_retry_limit"`
	BlockRange      time.Duration `mapstructure:"block_range"`
	BlockDuration   time.Duration `mapstructure:"block_duration"`
}

const (
	defaultKeyNamespace = "abuse_limiter"

	defaultTemporaryMessage = "You have been temporarily blocked due to too many verification attempts. Please try again in an hour."
	defaultExtendedMessage  = "You have been temporarily blocked due to too many verification attempts. Please try again in 24 hours."
)

// DefaultConfig returns a config with the login, verify_code and
// password_reset presets registered.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		KeyNamespace: defaultKeyNamespace,
		Messages: MessagesConfig{
			Temporary: defaultTemporaryMessage,
			Extended:  defaultExtendedMessage,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Breaker: BreakerConfig{
			Enabled:     false,
			MaxFailures: 5,
			OpenTimeout: 10 * time.Second,
		},
		Policies: map[string]PolicyConfig{
			"login":          LoginPolicy(),
			"verify_code":    VerifyCodePolicy(),
			"password_reset": PasswordResetPolicy(),
		},
	}
}

// LoginPolicy: more than 3 attempts in 6 minutes blocks for an hour, more than
// 5 in 15 minutes blocks for 24 hours.
func LoginPolicy() PolicyConfig {
	return PolicyConfig{
		KeyPrefix:         "login",
		TempBlockAttempts: 3,
		TempBlockRange:    6 * time.Minute,
		TempBlockDuration: time.Hour,
		BlockRetryLimit:   5,
		BlockRange:        15 * time.Minute,
		BlockDuration:     24 * time.Hour,
	}
}

// VerifyCodePolicy uses the login thresholds under the verify_code prefix.
func VerifyCodePolicy() PolicyConfig {
	p := LoginPolicy()
	p.KeyPrefix = "verify_code"
	return p
}

// PasswordResetPolicy uses the login thresholds under the password_reset
// prefix.
func PasswordResetPolicy() PolicyConfig {
	p := LoginPolicy()
	p.KeyPrefix = "password_reset"
	return p
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Policies != nil {
		out.Policies = make(map[string]PolicyConfig, len(cfg.Policies))
		for name, p := range cfg.Policies {
			out.Policies[name] = p
		}
	}
	return out
}

// Validate checks engine settings and every named policy.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.KeyNamespace) == "" {
		return fmt.Errorf("%w: KeyNamespace must not be empty", ErrInvalidConfig)
	}
	if strings.ContainsAny(c.KeyNamespace, " \t\r\n") {
		return fmt.Errorf("%w: KeyNamespace must not contain whitespace", ErrInvalidConfig)
	}
	if strings.ContainsAny(c.KeyNamespace, "{}") {
		return fmt.Errorf("%w: KeyNamespace must not contain hash tag braces", ErrInvalidConfig)
	}

	if c.Messages.Temporary == "" || c.Messages.Extended == "" {
		return fmt.Errorf("%w: Temporary and Extended messages must be set", ErrInvalidConfig)
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return fmt.Errorf("%w: Audit BufferSize must be > 0 when audit is enabled", ErrInvalidConfig)
	}

	if c.Breaker.Enabled {
		if c.Breaker.MaxFailures == 0 {
			return fmt.Errorf("%w: Breaker MaxFailures must be > 0", ErrInvalidConfig)
		}
		if c.Breaker.OpenTimeout <= 0 {
			return fmt.Errorf("%w: Breaker OpenTimeout must be > 0", ErrInvalidConfig)
		}
	}

	names := make([]string, 0, len(c.Policies))
	for name := range c.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: policy name must not be empty", ErrInvalidConfig)
		}
		p := c.Policies[name]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy %q: %w", name, err)
		}
	}

	return nil
}

// Validate checks the threshold and window invariants.
func (p PolicyConfig) Validate() error {
	if p.TempBlockAttempts <= 0 {
		return fmt.Errorf("%w: TempBlockAttempts must be > 0", ErrInvalidConfig)
	}
	if p.BlockRetryLimit <= 0 {
		return fmt.Errorf("%w: BlockRetryLimit must be > 0", ErrInvalidConfig)
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"TempBlockRange", p.TempBlockRange},
		{"TempBlockDuration", p.TempBlockDuration},
		{"BlockRange", p.BlockRange},
		{"BlockDuration", p.BlockDuration},
	} {
		if d.value < time.Second {
			return fmt.Errorf("%w: %s must be >= 1s", ErrInvalidConfig, d.name)
		}
		if d.value%time.Second != 0 {
			return fmt.Errorf("%w: %s must be a whole number of seconds", ErrInvalidConfig, d.name)
		}
	}

	if p.BlockRange < p.TempBlockRange {
		return fmt.Errorf("%w: BlockRange must be >= TempBlockRange", ErrInvalidConfig)
	}
	if p.BlockDuration < p.TempBlockDuration {
		return fmt.Errorf("%w: BlockDuration must be >= TempBlockDuration", ErrInvalidConfig)
	}
	// Attempt retention is max(ranges) and is bounded by the longest block.
	if p.BlockRange > p.BlockDuration {
		return fmt.Errorf("%w: BlockRange must be <= BlockDuration", ErrInvalidConfig)
	}

	if strings.ContainsAny(p.KeyPrefix, " \t\r\n") {
		return fmt.Errorf("%w: KeyPrefix must not contain whitespace", ErrInvalidConfig)
	}
	return nil
}

// Policy is a validated, immutable PolicyConfig. The zero Policy is invalid
// and rejected by every Engine method.
type Policy struct {
	cfg      PolicyConfig
	compiled limiter.Policy
	valid    bool
}

// NewPolicy validates cfg.
func NewPolicy(cfg PolicyConfig) (Policy, error) {
	if err := cfg.Validate(); err != nil {
		return Policy{}, err
	}
	return Policy{
		cfg: cfg,
		compiled: limiter.Policy{
			TempAttempts: int64(cfg.TempBlockAttempts),
			TempRange:    cfg.TempBlockRange,
			TempDuration: cfg.TempBlockDuration,
			LongAttempts: int64(cfg.BlockRetryLimit),
			LongRange:    cfg.BlockRange,
			LongDuration: cfg.BlockDuration,
		},
		valid: true,
	}, nil
}

// MustPolicy is NewPolicy for package-level presets. It panics on an invalid
// config.
func MustPolicy(cfg PolicyConfig) Policy {
	p, err := NewPolicy(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// Config returns the settings the policy was built from.
func (p Policy) Config() PolicyConfig {
	return p.cfg
}

// Name is the policy's key prefix, used as its label in audit and metrics.
func (p Policy) Name() string {
	return p.cfg.KeyPrefix
}

// Valid reports whether p was built by NewPolicy.
func (p Policy) Valid() bool {
	return p.valid
}

// Retention is how long an idle key's attempts are kept.
func (p Policy) Retention() time.Duration {
	return p.compiled.Retention()
}

func (p Policy) storageKey(key string) string {
	if p.cfg.KeyPrefix == "" {
		return key
	}
	return p.cfg.KeyPrefix + ":" + key
}
