package main

import (
	"fmt"

	goAbuse "github.com/MrEthical07/goAbuse"
	"github.com/MrEthical07/goAbuse/internal/settings"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configFile string
	envFile    string
	jsonOut    bool
	verbose    bool
}

// app is built lazily by each command from the loaded settings.
type app struct {
	settings settings.Settings
	logger   *zap.Logger
	redis    redis.UniversalClient
	engine   *goAbuse.Engine
}

func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "abusectl",
		Short:         "Inspect and administer abuse limiter state",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of text")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newCheckCmd(opts),
		newInspectCmd(opts),
		newUnblockCmd(opts),
		newResetCmd(opts),
		newPoliciesCmd(opts),
	)
	return root
}

func (o *rootOptions) load(withEngine bool) (*app, error) {
	s, err := settings.Load(settings.Options{ConfigFile: o.configFile, EnvFile: o.envFile})
	if err != nil {
		return nil, err
	}
	if o.verbose {
		s.Log.Level = "debug"
	}

	logger, err := s.Log.Logger()
	if err != nil {
		return nil, err
	}
	a := &app{settings: s, logger: logger}
	if !withEngine {
		return a, nil
	}

	a.redis = s.Redis.NewClient()
	engine, err := goAbuse.New().
		WithConfig(s.Limiter).
		WithRedis(a.redis).
		WithAuditSink(goAbuse.NewZapAuditSink(logger)).
		Build()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	a.engine = engine
	logger.Debug("engine ready",
		zap.Strings("redis", s.Redis.Addrs),
		zap.String("namespace", s.Limiter.KeyNamespace),
		zap.Bool("atomic", s.Limiter.Atomic),
	)
	return a, nil
}
