package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FromYAML(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
budget:
  max_wall_time: 5m
  max_files_per_phase: 1000
  workers: 4
checkpoint:
  file_interval: 50
  time_interval: 30s
discovery:
  exclude:
    - "**/*.min.js"
providers:
  embedder: static
  embedder_dimension: 128
sources:
  max_commits: 25
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5*time.Minute, cfg.Budget.MaxWallTime)
	assert.Equal(t, 1000, cfg.Budget.MaxFilesPerPhase)
	assert.Equal(t, 4, cfg.Budget.Workers)
	require.NotNil(t, cfg.Checkpoint.FileInterval)
	assert.Equal(t, 50, *cfg.Checkpoint.FileInterval)
	assert.Equal(t, 30*time.Second, cfg.Checkpoint.TimeInterval)
	assert.Equal(t, []string{"**/*.min.js"}, cfg.Discovery.Exclude)
	assert.Equal(t, 128, cfg.Providers.EmbedderDimension)
	assert.Equal(t, 25, cfg.Sources.MaxCommits)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
budget:
  max_retries: 3
`)
	t.Setenv("INDEXD_LOGGING_LEVEL", "warn")
	t.Setenv("INDEXD_BUDGET_MAX_RETRIES", "9")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 9, cfg.Budget.MaxRetries)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	require.NoError(t, err)
	// Unset file interval defers to the checkpoint writer's default.
	assert.Nil(t, cfg.Checkpoint.FileInterval)
}

func TestLoad_ZeroFileIntervalIsEveryUpdate(t *testing.T) {
	path := writeConfig(t, `
checkpoint:
  file_interval: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	// Explicit 0 is distinct from unset: it requests a durable write on
	// every completed item.
	require.NotNil(t, cfg.Checkpoint.FileInterval)
	assert.Equal(t, 0, *cfg.Checkpoint.FileInterval)
}

func TestLoad_RejectsNegativeFileInterval(t *testing.T) {
	path := writeConfig(t, `
checkpoint:
  file_interval: -5
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
budget:
  max_retries: -1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "logging: [broken")
	_, err := Load(path)
	require.Error(t, err)
}
