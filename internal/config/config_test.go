package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automation/internal/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "automation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "automation.db", cfg.Database)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, engine.DefaultConfig(), cfg.Engine)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
database: /var/lib/automation/state.db
metrics_addr: ":9090"
engine:
  ready_recheck_interval: 5s
  shutdown_timeout: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/automation/state.db", cfg.Database)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 5*time.Second, cfg.Engine.ReadyRecheckInterval)
	assert.Equal(t, time.Minute, cfg.Engine.ShutdownTimeout)
	assert.Equal(t, engine.DefaultConfig().DelayMaxSleep, cfg.Engine.DelayMaxSleep)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database: from-file.db\n")
	t.Setenv("AUTOMATION_DATABASE", "from-env.db")
	t.Setenv("AUTOMATION_ENGINE_PREPARE_RETRY_BACKOFF", "2m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.Database)
	assert.Equal(t, 2*time.Minute, cfg.Engine.PrepareRetryBackoff)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "database: [unterminated\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_ZeroTimingFallsBackToDefaults(t *testing.T) {
	path := writeConfig(t, "engine:\n  delay_max_sleep: 0s\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig().DelayMaxSleep, cfg.Engine.DelayMaxSleep)
}

func TestValidate_RequiresDatabase(t *testing.T) {
	cfg := Default()
	cfg.Database = ""
	require.Error(t, cfg.Validate())
}
