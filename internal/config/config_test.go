package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout())
	assert.Equal(t, 15, cfg.Explore.MaxScreens)
	assert.Equal(t, 5, cfg.Explore.MaxDepth)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  host: 127.0.0.1
  port: 9000
  request_timeout: 30s
explore:
  max_screens: 25
logging:
  debug_mode: true
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 25, cfg.Explore.MaxScreens)
	assert.True(t, cfg.Logging.DebugMode)
	// Untouched sections keep their defaults
	assert.Equal(t, "data/appscout.db", cfg.Knowledge.DatabasePath)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("APPSCOUT_DB", "/tmp/other.db")
	t.Setenv("APPSCOUT_PORT", "7070")
	t.Setenv("APPSCOUT_DEBUG", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Planner.Provider)
	assert.Equal(t, "test-key", cfg.Planner.APIKey)
	assert.Equal(t, "/tmp/other.db", cfg.Knowledge.DatabasePath)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Logging.DebugMode)
}

func TestEnvOverrideIgnoresBadPort(t *testing.T) {
	t.Setenv("APPSCOUT_PORT", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Explore.MaxScreens = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Planner.Provider = "gemini"
	cfg.Planner.APIKey = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Knowledge.DatabasePath = ""
	assert.Error(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.Port = 9999
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Server.Port)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.RequestTimeout = "garbage"
	cfg.Session.IdleTimeout = ""
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout())
	assert.Equal(t, 1500*time.Millisecond, cfg.SettleDelay())
}
