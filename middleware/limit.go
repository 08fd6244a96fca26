package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	goAbuse "github.com/MrEthical07/goAbuse"
	"go.uber.org/zap"
)

// FailMode selects what Limit does when the limiter cannot decide.
type FailMode int

const (
	// FailClosed answers 503 when the store is unavailable.
	FailClosed FailMode = iota
	// FailOpen passes the request through when the store is unavailable.
	FailOpen
)

type options struct {
	failMode FailMode
	logger   *zap.Logger
}

type Option func(*options)

func WithFailMode(mode FailMode) Option {
	return func(o *options) { o.failMode = mode }
}

// WithLogger logs store failures and key extraction failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

type decisionContextKey struct{}

// DecisionFromContext returns the allowing decision Limit attached to the
// request. It is absent when the request passed through under FailOpen.
func DecisionFromContext(ctx context.Context) (goAbuse.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(goAbuse.Decision)
	return d, ok
}

type throttledBody struct {
	Error      string `json:"error"`
	Tier       string `json:"tier"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Limit checks every request against policy under the key produced by keyFn.
// A denied request gets 429 with a Retry-After header and never reaches next.
func Limit(engine *goAbuse.Engine, policy goAbuse.Policy, keyFn KeyFunc, opts ...Option) func(http.Handler) http.Handler {
	o := options{failMode: FailClosed, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("policy", policy.Name()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "limiter_unavailable"})
				return
			}

			key, err := keyFn(r)
			if err != nil {
				logger.Debug("abuse key unavailable", zap.Error(err))
				status := http.StatusBadRequest
				if errors.Is(err, ErrUnauthenticated) {
					status = http.StatusUnauthorized
				}
				writeJSON(w, status, errorBody{Error: "abuse_key_unavailable"})
				return
			}

			ctx := goAbuse.WithClientIP(r.Context(), ClientIP(r))
			decision, err := engine.Check(ctx, key, policy)
			if err != nil {
				logger.Warn("abuse check failed", zap.String("key", key), zap.Error(err))
				if o.failMode == FailOpen && errors.Is(err, goAbuse.ErrStoreUnavailable) {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
				writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "limiter_unavailable"})
				return
			}

			if !decision.Allowed {
				seconds := decision.RetryAfterSeconds()
				w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
				writeJSON(w, http.StatusTooManyRequests, throttledBody{
					Error:      "abuse_throttled",
					Tier:       decision.Tier.String(),
					Message:    decision.Message,
					RetryAfter: seconds,
				})
				return
			}

			ctx = context.WithValue(ctx, decisionContextKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LimitNamed is Limit with a policy registered on the engine. It panics if
// name is unknown, since a route wired to a missing policy is a startup bug.
func LimitNamed(engine *goAbuse.Engine, name string, keyFn KeyFunc, opts ...Option) func(http.Handler) http.Handler {
	policy, err := engine.Policy(name)
	if err != nil {
		panic(err)
	}
	return Limit(engine, policy, keyFn, opts...)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
