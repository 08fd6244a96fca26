package goAbuse

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// LintSeverity ranks a lint warning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is a valid but questionable setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of warnings from [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	codes := make([]string, len(r))
	for i, w := range r {
		codes[i] = w.Code
	}
	return codes
}

// BySeverity returns warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins warnings at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	filtered := r.BySeverity(min)
	if len(filtered) == 0 {
		return nil
	}
	errs := make([]error, len(filtered))
	for i, w := range filtered {
		errs[i] = fmt.Errorf("[%s] %s: %s", w.Severity, w.Code, w.Message)
	}
	return errors.Join(errs...)
}

// Lint reports settings that pass Validate but probably do not do what the
// operator wants. It never fails; call Validate for hard errors.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "audit is disabled; blocks will not be recorded anywhere")
	} else if !c.Audit.DropIfFull {
		add("audit_blocking", LintWarn, "audit DropIfFull is false; a slow sink delays every denied check")
	}
	if !c.Metrics.Enabled {
		add("metrics_disabled", LintInfo, "metrics are disabled")
	}
	if len(c.Policies) == 0 {
		add("no_named_policies", LintInfo, "no named policies; callers must pass policies explicitly")
	}

	names := make([]string, 0, len(c.Policies))
	for name := range c.Policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := c.Policies[name]
		if p.BlockRetryLimit <= p.TempBlockAttempts {
			add("temporary_tier_unreachable", LintHigh,
				"policy %q: BlockRetryLimit (%d) <= TempBlockAttempts (%d), every block is extended",
				name, p.BlockRetryLimit, p.TempBlockAttempts)
		}
		if p.BlockRange == p.TempBlockRange && p.BlockRetryLimit > p.TempBlockAttempts {
			add("extended_tier_unreachable", LintHigh,
				"policy %q: both windows are %s and the temporary tier always trips first",
				name, p.TempBlockRange)
		}
		if p.TempBlockAttempts > 20 {
			add("temp_threshold_high", LintWarn,
				"policy %q: %d attempts before a temporary block is generous for a sensitive action",
				name, p.TempBlockAttempts)
		}
		if p.BlockDuration == p.TempBlockDuration {
			add("escalation_flat", LintWarn, "policy %q: extended and temporary blocks last equally long", name)
		}
		if c.Messages.Temporary == defaultTemporaryMessage && p.TempBlockDuration != time.Hour {
			add("message_duration_mismatch", LintInfo,
				"policy %q: default temporary message says one hour but TempBlockDuration is %s", name, p.TempBlockDuration)
		}
		if c.Messages.Extended == defaultExtendedMessage && p.BlockDuration != 24*time.Hour {
			add("message_duration_mismatch", LintInfo,
				"policy %q: default extended message says 24 hours but BlockDuration is %s", name, p.BlockDuration)
		}
		if p.KeyPrefix == "" {
			add("empty_key_prefix", LintWarn, "policy %q: empty KeyPrefix shares keys with other policies", name)
		} else if strings.Contains(p.KeyPrefix, ":") {
			add("key_prefix_separator", LintInfo, "policy %q: KeyPrefix contains ':'", name)
		}
	}

	return ws
}
