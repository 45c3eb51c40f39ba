package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tapedeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err, "a missing config file falls back to defaults")

	assert.Equal(t, ":8909", cfg.Server.Addr)
	assert.False(t, cfg.Server.Disabled)
	assert.Equal(t, "queue.json", cfg.Queue.Path)
	assert.Equal(t, 1.0, cfg.Output.Volume)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 3*time.Second, cfg.RestartThreshold())
	assert.Equal(t, 10*time.Second, cfg.CatalogTimeout())
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
queue:
  path: /var/lib/tapedeck/queue.json
output:
  volume: 0.5
playback:
  restart_threshold_sec: 5
catalog:
  base_url: https://api.example.com
  token: secret
surfaces:
  playlist:
    enabled: true
    settings:
      repeat: all
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/tapedeck/queue.json", cfg.Queue.Path)
	assert.Equal(t, 0.5, cfg.Output.Volume)
	assert.Equal(t, 5*time.Second, cfg.RestartThreshold())
	assert.Equal(t, "https://api.example.com", cfg.Catalog.BaseURL)

	s := cfg.Surface("playlist")
	assert.True(t, s.Enabled)
	assert.Equal(t, "all", s.Settings["repeat"])

	// Unknown surfaces come back enabled with no settings
	assert.True(t, cfg.Surface("miniplayer").Enabled)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "volume above range",
			body: "output:\n  volume: 1.5\n",
		},
		{
			name: "poll interval too low",
			body: "output:\n  poll_interval_ms: 5\n",
		},
		{
			name: "catalog base url not a url",
			body: "catalog:\n  base_url: not-a-url\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TAPEDECK_CATALOG_TOKEN", "env-token")
	t.Setenv("TAPEDECK_QUEUE_PATH", "/tmp/env-queue.json")

	path := writeConfig(t, "catalog:\n  token: file-token\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Catalog.Token)
	assert.Equal(t, "/tmp/env-queue.json", cfg.Queue.Path)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "{nope"))
	assert.Error(t, err)
}
