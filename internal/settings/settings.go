package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	goAbuse "github.com/MrEthical07/goAbuse"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "GOABUSE"

// Settings is everything a goAbuse binary reads from its config file and
// environment.
type Settings struct {
	Redis   RedisSettings  `mapstructure:"redis"`
	Limiter goAbuse.Config `mapstructure:"limiter"`
	HTTP    HTTPSettings   `mapstructure:"http"`
	Log     LogSettings    `mapstructure:"log"`
}

// RedisSettings selects single node, sentinel or cluster the way
// redis.UniversalOptions does: one address is a single node, several are a
// cluster, and MasterName switches to sentinel failover.
type RedisSettings struct {
	Addrs       []string      `mapstructure:"addrs"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	MasterName  string        `mapstructure:"master_name"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

type HTTPSettings struct {
	Addr string `mapstructure:"addr"`
}

type LogSettings struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Options locate the config sources. Both files are optional.
type Options struct {
	ConfigFile string
	EnvFile    string
}

func Default() Settings {
	return Settings{
		Redis: RedisSettings{
			Addrs:       []string{"localhost:6379"},
			DialTimeout: 2 * time.Second,
			ReadTimeout: 500 * time.Millisecond,
		},
		Limiter: goAbuse.DefaultConfig(),
		HTTP:    HTTPSettings{Addr: ":8080"},
		Log:     LogSettings{Level: "info"},
	}
}

// Load layers defaults, the config file, the .env file and the process
// environment, in increasing precedence. Environment keys are GOABUSE_ plus
// the upper-cased path, e.g. GOABUSE_LIMITER_BREAKER_ENABLED.
//
// A policy defined in the file replaces the preset with the same name.
func Load(opts Options) (Settings, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return Settings{}, err
	}

	s := Default()
	v := viper.New()
	setDefaults(v, s)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it
// during Unmarshal.
func setDefaults(v *viper.Viper, s Settings) {
	v.SetDefault("redis.addrs", s.Redis.Addrs)
	v.SetDefault("redis.username", s.Redis.Username)
	v.SetDefault("redis.password", s.Redis.Password)
	v.SetDefault("redis.db", s.Redis.DB)
	v.SetDefault("redis.master_name", s.Redis.MasterName)
	v.SetDefault("redis.dial_timeout", s.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", s.Redis.ReadTimeout)

	l := s.Limiter
	v.SetDefault("limiter.key_namespace", l.KeyNamespace)
	v.SetDefault("limiter.atomic", l.Atomic)
	v.SetDefault("limiter.messages.temporary", l.Messages.Temporary)
	v.SetDefault("limiter.messages.extended", l.Messages.Extended)
	v.SetDefault("limiter.messages.blocked", l.Messages.Blocked)
	v.SetDefault("limiter.audit.enabled", l.Audit.Enabled)
	v.SetDefault("limiter.audit.buffer_size", l.Audit.BufferSize)
	v.SetDefault("limiter.audit.drop_if_full", l.Audit.DropIfFull)
	v.SetDefault("limiter.metrics.enabled", l.Metrics.Enabled)
	v.SetDefault("limiter.metrics.enable_latency_histograms", l.Metrics.EnableLatencyHistograms)
	v.SetDefault("limiter.breaker.enabled", l.Breaker.Enabled)
	v.SetDefault("limiter.breaker.max_failures", l.Breaker.MaxFailures)
	v.SetDefault("limiter.breaker.open_timeout", l.Breaker.OpenTimeout)

	v.SetDefault("http.addr", s.HTTP.Addr)
	v.SetDefault("log.level", s.Log.Level)
	v.SetDefault("log.development", s.Log.Development)
}

func (s Settings) Validate() error {
	if len(s.Redis.Addrs) == 0 {
		return errors.New("settings: redis.addrs must not be empty")
	}
	if _, err := zapcore.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("settings: log.level: %w", err)
	}
	if err := s.Limiter.Validate(); err != nil {
		return fmt.Errorf("settings: limiter: %w", err)
	}
	return nil
}

func (r RedisSettings) UniversalOptions() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:       r.Addrs,
		Username:    r.Username,
		Password:    r.Password,
		DB:          r.DB,
		MasterName:  r.MasterName,
		DialTimeout: r.DialTimeout,
		ReadTimeout: r.ReadTimeout,
	}
}

// NewClient opens a go-redis universal client. It does not ping.
func (r RedisSettings) NewClient() redis.UniversalClient {
	return redis.NewUniversalClient(r.UniversalOptions())
}

// Logger builds a zap logger: JSON in production, console in development.
func (l LogSettings) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
