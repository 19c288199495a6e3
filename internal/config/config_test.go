package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/trust"
)

// setupTestHome points HOME at a temp dir and returns the patternd config
// directory inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "patternd")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreMemory, cfg.Trust.Store)
	assert.Equal(t, trust.DefaultZ, cfg.Trust.Z)
	assert.Equal(t, "patternd.trust.events", cfg.Events.Subject)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
ranking:
  candidate_cap: 25
  weights:
    trust: 0.40
    scope: 0.20
    policy: 0.15
    freshness: 0.15
    locality: 0.10
pack:
  budget_bytes: 4096
  quotas:
    tests: 1
trust:
  store: sqlite
  path: /var/lib/patternd/trust.db
snapshot:
  path: /srv/patterns
  watch: true
  debounce: 1s
events:
  enabled: true
  token: s3cr3t
logging:
  level: trace
  format: console
  fields:
    env: test
`, 0o600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Ranking.CandidateCap)
	assert.InDelta(t, 0.40, cfg.Ranking.Weights.Trust, 1e-9)
	assert.Equal(t, 4096, cfg.Pack.BudgetBytes)
	assert.Equal(t, 1, cfg.Pack.Quotas.Tests)
	assert.Equal(t, Default().Pack.Quotas.Policies, cfg.Pack.Quotas.Policies)
	assert.Equal(t, StoreSQLite, cfg.Trust.Store)
	assert.Equal(t, time.Second, cfg.Snapshot.Debounce)
	assert.True(t, cfg.Snapshot.Watch)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "s3cr3t", cfg.Events.Token.Value())
	assert.Equal(t, logging.TraceLevel, cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, map[string]string{"env": "test"}, cfg.Logging.Fields)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "pack:\n  budget_bytes: 4096\n", 0o600)

	t.Setenv("PATTERND_PACK_BUDGET_BYTES", "8192")
	t.Setenv("PATTERND_PACK_QUOTAS_TOP_CANDIDATES", "3")
	t.Setenv("PATTERND_RANKING_CANDIDATE_CAP", "12")
	t.Setenv("PATTERND_LOGGING_LEVEL", "debug")
	t.Setenv("PATTERND_LOGGING_SAMPLING_ENABLED", "false")
	t.Setenv("PATTERND_EVENTS_APPLY_TIMEOUT", "2s")
	t.Setenv("PATTERND_SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8192, cfg.Pack.BudgetBytes)
	assert.Equal(t, 3, cfg.Pack.Quotas.TopCandidates)
	assert.Equal(t, 12, cfg.Ranking.CandidateCap)
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.False(t, cfg.Logging.Sampling.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Events.ApplyTimeout)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown store", "trust:\n  store: redis\n", "trust.store"},
		{"sqlite without path", "trust:\n  store: sqlite\n", "trust.path"},
		{"negative weight", "ranking:\n  weights:\n    trust: -1\n", "ranking"},
		{"tiny budget", "pack:\n  budget_bytes: 1\n", "pack"},
		{"bad log format", "logging:\n  format: xml\n", "logging"},
		{"bad port", "server:\n  port: 70000\n", "server.port"},
		{"negative rate limit", "server:\n  rate_limit: -1\n", "server.rate_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := setupTestHome(t)
			path := writeConfig(t, dir, tt.yaml, 0o600)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "pack:\n  budget_bytes: 4096\n", 0o644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsLargeFile(t *testing.T) {
	dir := setupTestHome(t)
	big := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, dir, big, 0o600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestValidateConfigPath(t *testing.T) {
	dir := setupTestHome(t)

	for _, p := range []string{
		filepath.Join(dir, "config.yaml"),
		filepath.Join(dir, "sub", "config.yaml"),
		"/etc/patternd/config.yaml",
	} {
		assert.NoError(t, validateConfigPath(p), p)
	}

	for _, p := range []string{
		"/etc/passwd",
		"/etc/patternd../evil.yaml",
		filepath.Join(dir, "..", "..", "evil.yaml"),
		filepath.Join(filepath.Dir(dir), "patternd-other", "config.yaml"),
	} {
		assert.Error(t, validateConfigPath(p), p)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"PATTERND_PACK_BUDGET_BYTES":         "pack.budget_bytes",
		"PATTERND_RANKING_WEIGHTS_FRESHNESS": "ranking.weights.freshness",
		"PATTERND_LOGGING_REDACTION_ENABLED": "logging.redaction.enabled",
		"PATTERND_TELEMETRY_METRICS_ENABLED": "telemetry.metrics.enabled",
		"PATTERND_TRUST_Z":                   "trust.z",
		"PATTERND_DEBUG":                     "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(filepath.Join(home, ".config", "patternd"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("nats-token")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "nats-token")
	assert.Equal(t, "nats-token", s.Value())
	assert.True(t, s.IsSet())

	b, err := json.Marshal(struct{ Token Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "nats-token")

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
