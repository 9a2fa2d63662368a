package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".codesentinel/sessions", cfg.Storage.Dir)
	assert.Equal(t, 4, cfg.Analysis.Concurrency)
	assert.Equal(t, 8, cfg.Analysis.CheckpointEvery)
	assert.Equal(t, 30*time.Second, cfg.Analysis.CheckpointInterval.Duration())
	assert.Equal(t, 0.5, cfg.Analysis.FailureThreshold)
	assert.True(t, cfg.Analysis.RequeueFront)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  dir: /tmp/sentinel-sessions
  keep_recent: 3
analysis:
  concurrency: 8
  checkpoint_every: 2
  checkpoint_interval: 5s
  failure_threshold: 0.25
  requeue_front: false
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/sentinel-sessions", cfg.Storage.Dir)
	assert.Equal(t, 3, cfg.Storage.KeepRecent)
	assert.Equal(t, 8, cfg.Analysis.Concurrency)
	assert.Equal(t, 2, cfg.Analysis.CheckpointEvery)
	assert.Equal(t, 5*time.Second, cfg.Analysis.CheckpointInterval.Duration())
	assert.Equal(t, 0.25, cfg.Analysis.FailureThreshold)
	assert.False(t, cfg.Analysis.RequeueFront)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Analysis.Concurrency)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "analysis:\n  concurrency: 2\n")

	t.Setenv("ANALYSIS_CONCURRENCY", "16")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Analysis.Concurrency)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "analysis: [not: a map")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := writeConfigFile(t, "analysis:\n  failure_threshold: 1.5\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure_threshold")
}
