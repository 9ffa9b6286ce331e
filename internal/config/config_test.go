package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "assessments.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "pool", cfg.Jobs.Executor)
	assert.Equal(t, 4, cfg.Jobs.Workers)
	assert.Equal(t, time.Second, cfg.Jobs.PollInterval())
	assert.Equal(t, 10*time.Minute, cfg.Jobs.StaleAfter())
	assert.Equal(t, 5, cfg.Scoring.Concurrency)
	assert.InDelta(t, 2.0, cfg.Scoring.AIRequestsPerSecond, 0.001)
	assert.Equal(t, 5, cfg.Benchmark.MinSampleSize)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, 168, cfg.Anthropic.CacheTTLHours)
	assert.Equal(t, "assessment-jobs", cfg.Temporal.TaskQueue)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/assess
log:
  level: debug
  format: console
server:
  port: 9090
jobs:
  workers: 8
benchmark:
  min_sample_size: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/assess", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Jobs.Workers)
	assert.Equal(t, 3, cfg.Benchmark.MinSampleSize)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Scoring.Concurrency)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ASSESS_STORE_DRIVER", "postgres")
	t.Setenv("ASSESS_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "test.db"
	cfg.Server.Port = 8080
	cfg.Jobs.Executor = "pool"
	cfg.Jobs.Workers = 4
	cfg.Scoring.Concurrency = 5
	cfg.Benchmark.MinSampleSize = 5
	cfg.Anthropic.Key = "sk-ant-key"
	return cfg
}

func TestValidate_StoreOnly(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	assert.NoError(t, cfg.Validate(""))

	cfg.Store.Driver = "mysql"
	err := cfg.Validate("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql"`)
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Server.Port = 0
	cfg.Anthropic.Key = ""
	cfg.Jobs.Workers = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port 0 is out of range")
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "jobs.workers must be at least 1")
}

func TestValidateServe_TemporalExecutorNeedsAddress(t *testing.T) {
	cfg := validDefaults()
	cfg.Jobs.Executor = "temporal"
	cfg.Anthropic.Key = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporal.address is required when jobs.executor is temporal")
	assert.NotContains(t, err.Error(), "anthropic.key")
}

func TestValidateWorker(t *testing.T) {
	cfg := validDefaults()
	cfg.Temporal.Address = "localhost:7233"
	assert.NoError(t, cfg.Validate("worker"))

	cfg.Temporal.Address = ""
	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporal.address is required")
}
