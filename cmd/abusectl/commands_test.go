package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.Execute()
	return out.String(), err
}

func withRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	mr := miniredis.RunT(t)
	t.Setenv("GOABUSE_REDIS_ADDRS", mr.Addr())
	t.Setenv("GOABUSE_LOG_LEVEL", "error")
	return mr
}

func TestCheckThenInspect(t *testing.T) {
	withRedis(t)

	var last checkOutput
	for i := 0; i < 4; i++ {
		out, err := run(t, "check", "login", "203.0.113.7", "--json")
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal([]byte(out), &last))
	}
	assert.False(t, last.Allowed)
	assert.Equal(t, "temporary", last.Tier)
	assert.Equal(t, int64(3600), last.RetryAfter)

	out, err := run(t, "inspect", "login", "203.0.113.7", "--json")
	require.NoError(t, err)
	var inspected inspectOutput
	require.NoError(t, json.Unmarshal([]byte(out), &inspected))
	assert.True(t, inspected.Blocked)
	assert.Equal(t, int64(4), inspected.ShortCount)
}

func TestUnblockAndReset(t *testing.T) {
	mr := withRedis(t)

	for i := 0; i < 4; i++ {
		_, err := run(t, "check", "verify_code", "user-1")
		require.NoError(t, err)
	}
	require.True(t, mr.Exists("abuse_limiter:block:{verify_code:user-1}"))

	out, err := run(t, "unblock", "verify_code", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "unblocked verify_code user-1")
	assert.False(t, mr.Exists("abuse_limiter:block:{verify_code:user-1}"))
	assert.True(t, mr.Exists("abuse_limiter:attempts:{verify_code:user-1}"))

	_, err = run(t, "reset", "verify_code", "user-1")
	require.NoError(t, err)
	assert.False(t, mr.Exists("abuse_limiter:attempts:{verify_code:user-1}"))
}

func TestUnknownPolicy(t *testing.T) {
	withRedis(t)

	_, err := run(t, "check", "signup", "k")
	assert.Error(t, err)
}

func TestPoliciesLint(t *testing.T) {
	out, err := run(t, "policies", "--lint")
	require.NoError(t, err)
	assert.Contains(t, out, "login")
	assert.Contains(t, out, "password_reset")
	assert.Contains(t, out, "audit_disabled")
}
