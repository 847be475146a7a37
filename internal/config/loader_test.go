package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoaderAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Server.MetricsPort, cfg.Server.MetricsPort)
}

func TestLoaderMergesYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caxton.yaml")
	yamlContent := `
server:
  metrics_port: 19090
memory:
  reembed_distance_threshold: 0.3
storage:
  driver: sqlite
  path: custom.db
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.Equal(t, 19090, cfg.Server.MetricsPort)
	require.Equal(t, 0.3, cfg.Memory.ReembedDistanceThreshold)
	require.Equal(t, "custom.db", cfg.Storage.Path)
	// Untouched fields keep their defaults.
	require.Equal(t, DefaultConfig().Router.InboxCapacity, cfg.Router.InboxCapacity)
}

func TestLoaderToleratesMissingFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/path/caxton.yaml").Load()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Server.MetricsPort, cfg.Server.MetricsPort)
}

func TestLoaderAppliesEnvOverrides(t *testing.T) {
	t.Setenv("CAXTON_SERVER_METRICS_PORT", "7777")
	t.Setenv("CAXTON_MEMORY_MAX_ENTITIES", "42")
	t.Setenv("CAXTON_TELEMETRY_ENABLED", "true")
	t.Setenv("CAXTON_LOG_OUTPUT_PATHS", "stdout,stderr")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.Equal(t, 7777, cfg.Server.MetricsPort)
	require.Equal(t, 42, cfg.Memory.MaxEntities)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, []string{"stdout", "stderr"}, cfg.Log.OutputPaths)
}

func TestLoaderEnvOverridesFileWhichOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caxton.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  metrics_port: 100\n"), 0o644))

	t.Setenv("CAXTON_SERVER_METRICS_PORT", "200")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.Equal(t, 200, cfg.Server.MetricsPort)
}

func TestLoaderRunsCustomValidators(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error {
		return os.ErrInvalid
	}).Load()
	require.Error(t, err)
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "caxton.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: oracle\n"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}
