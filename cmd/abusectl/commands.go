package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	goAbuse "github.com/MrEthical07/goAbuse"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <policy> <key>",
		Short: "Record one attempt and print the decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load(true)
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.engine.CheckNamed(cmd.Context(), args[1], args[0])
			if err != nil {
				a.logger.Error("check failed", zap.String("policy", args[0]), zap.Error(err))
				return err
			}
			return printResult(cmd.OutOrStdout(), opts.jsonOut, checkOutput{
				Policy:       args[0],
				Key:          args[1],
				Allowed:      d.Allowed,
				Tier:         d.Tier.String(),
				Message:      d.Message,
				RetryAfter:   d.RetryAfterSeconds(),
				ShortCount:   d.ShortCount,
				LongCount:    d.LongCount,
				BlockedUntil: formatTime(d.BlockedUntil),
			})
		},
	}
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <policy> <key>",
		Short: "Show the block and attempt counts for a key without recording",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load(true)
			if err != nil {
				return err
			}
			defer a.Close()

			policy, err := a.engine.Policy(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			cfg := policy.Config()

			record, blocked, err := a.engine.Block(ctx, args[1], policy)
			if err != nil {
				return err
			}
			short, err := a.engine.Attempts(ctx, args[1], policy, cfg.TempBlockRange)
			if err != nil {
				return err
			}
			long, err := a.engine.Attempts(ctx, args[1], policy, cfg.BlockRange)
			if err != nil {
				return err
			}

			out := inspectOutput{
				Policy:     args[0],
				Key:        args[1],
				Blocked:    blocked,
				ShortCount: short,
				LongCount:  long,
			}
			if blocked {
				out.Tier = record.Tier.String()
				out.BlockedUntil = formatTime(record.BlockedUntil)
			}
			return printResult(cmd.OutOrStdout(), opts.jsonOut, out)
		},
	}
}

func newUnblockCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <policy> <key>",
		Short: "Remove a block, keeping recorded attempts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminOp(cmd, opts, args, "unblocked", func(a *app, p goAbuse.Policy) error {
				return a.engine.Unblock(cmd.Context(), args[1], p)
			})
		},
	}
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <policy> <key>",
		Short: "Remove a block and forget all recorded attempts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return adminOp(cmd, opts, args, "reset", func(a *app, p goAbuse.Policy) error {
				return a.engine.Reset(cmd.Context(), args[1], p)
			})
		},
	}
}

func adminOp(cmd *cobra.Command, opts *rootOptions, args []string, verb string, fn func(*app, goAbuse.Policy) error) error {
	a, err := opts.load(true)
	if err != nil {
		return err
	}
	defer a.Close()

	policy, err := a.engine.Policy(args[0])
	if err != nil {
		return err
	}
	if err := fn(a, policy); err != nil {
		return err
	}
	a.logger.Info("admin operation", zap.String("op", verb), zap.String("policy", args[0]), zap.String("key", args[1]))
	return printResult(cmd.OutOrStdout(), opts.jsonOut, map[string]string{"policy": args[0], "key": args[1], "status": verb})
}

func newPoliciesCmd(opts *rootOptions) *cobra.Command {
	var lint bool
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List configured policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.load(false)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.settings.Limiter
			names := make([]string, 0, len(cfg.Policies))
			for name := range cfg.Policies {
				names = append(names, name)
			}
			sort.Strings(names)

			out := policiesOutput{}
			for _, name := range names {
				p := cfg.Policies[name]
				out.Policies = append(out.Policies, policyOutput{
					Name:              name,
					KeyPrefix:         p.KeyPrefix,
					TempBlockAttempts: p.TempBlockAttempts,
					TempBlockRange:    p.TempBlockRange.String(),
					TempBlockDuration: p.TempBlockDuration.String(),
					BlockRetryLimit:   p.BlockRetryLimit,
					BlockRange:        p.BlockRange.String(),
					BlockDuration:     p.BlockDuration.String(),
				})
			}
			if lint {
				for _, w := range cfg.Lint() {
					out.Lint = append(out.Lint, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
				}
			}
			return printResult(cmd.OutOrStdout(), opts.jsonOut, out)
		},
	}
	cmd.Flags().BoolVar(&lint, "lint", false, "also print config lint warnings")
	return cmd
}

type checkOutput struct {
	Policy       string `json:"policy"`
	Key          string `json:"key"`
	Allowed      bool   `json:"allowed"`
	Tier         string `json:"tier"`
	Message      string `json:"message,omitempty"`
	RetryAfter   int64  `json:"retry_after"`
	ShortCount   int64  `json:"short_count"`
	LongCount    int64  `json:"long_count"`
	BlockedUntil string `json:"blocked_until,omitempty"`
}

type inspectOutput struct {
	Policy       string `json:"policy"`
	Key          string `json:"key"`
	Blocked      bool   `json:"blocked"`
	Tier         string `json:"tier,omitempty"`
	BlockedUntil string `json:"blocked_until,omitempty"`
	ShortCount   int64  `json:"short_count"`
	LongCount    int64  `json:"long_count"`
}

type policyOutput struct {
	Name              string `json:"name"`
	KeyPrefix         string `json:"key_prefix"`
	TempBlockAttempts int    `json:"temp_block_attempts"`
	TempBlockRange    string `json:"temp_block_range"`
	TempBlockDuration string `json:"temp_block_duration"`
	BlockRetryLimit   int    `json:"block_retry_limit"`
	BlockRange        string `json:"block_range"`
	BlockDuration     string `json:"block_duration"`
}

type policiesOutput struct {
	Policies []policyOutput `json:"policies"`
	Lint     []string       `json:"lint,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func printResult(w io.Writer, asJSON bool, v any) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	switch out := v.(type) {
	case checkOutput:
		if out.Allowed {
			_, err := fmt.Fprintf(w, "allowed  %s %s  short=%d long=%d\n", out.Policy, out.Key, out.ShortCount, out.LongCount)
			return err
		}
		_, err := fmt.Fprintf(w, "denied   %s %s  tier=%s retry_after=%ds until=%s\n%s\n",
			out.Policy, out.Key, out.Tier, out.RetryAfter, out.BlockedUntil, out.Message)
		return err
	case inspectOutput:
		state := "not blocked"
		if out.Blocked {
			state = fmt.Sprintf("blocked tier=%s until=%s", out.Tier, out.BlockedUntil)
		}
		_, err := fmt.Fprintf(w, "%s %s  %s  short=%d long=%d\n", out.Policy, out.Key, state, out.ShortCount, out.LongCount)
		return err
	case policiesOutput:
		for _, p := range out.Policies {
			if _, err := fmt.Fprintf(w, "%-16s prefix=%-16s temp: >%d in %s -> %s  extended: >%d in %s -> %s\n",
				p.Name, p.KeyPrefix, p.TempBlockAttempts, p.TempBlockRange, p.TempBlockDuration,
				p.BlockRetryLimit, p.BlockRange, p.BlockDuration); err != nil {
				return err
			}
		}
		for _, l := range out.Lint {
			if _, err := fmt.Fprintln(w, l); err != nil {
				return err
			}
		}
		return nil
	case map[string]string:
		_, err := fmt.Fprintf(w, "%s %s %s\n", out["status"], out["policy"], out["key"])
		return err
	default:
		_, err := fmt.Fprintf(w, "%v\n", v)
		return err
	}
}
