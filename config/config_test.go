package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchReferenceValues(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, 500*time.Millisecond, cfg.Watch.StabilityInterval())
	assert.Equal(t, 10, cfg.Watch.StabilityMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Track.PollInterval())
	assert.Equal(t, 3, cfg.Track.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Track.BackoffBase())
	assert.Equal(t, 120*time.Second, cfg.API.Timeout())
	assert.Equal(t, "http://localhost:8000", cfg.API.BaseURL)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
}

func TestDurationHelpersGuardAgainstZero(t *testing.T) {
	var w WatchConfig
	var tr TrackConfig
	var a APIConfig

	assert.Equal(t, 500*time.Millisecond, w.StabilityInterval())
	assert.Equal(t, 2*time.Second, tr.PollInterval())
	assert.Equal(t, 2*time.Second, tr.BackoffBase())
	assert.Equal(t, 120*time.Second, a.Timeout())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "soundpost.toml")

	content := `
[watch]
root = "/recordings"
stability_interval_ms = 100
stability_max_attempts = 4

[api]
base_url = "http://example.test:9000"

[track]
poll_interval_ms = 250
max_retries = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/recordings", cfg.Watch.Root)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.StabilityInterval())
	assert.Equal(t, 4, cfg.Watch.StabilityMaxAttempts)
	assert.Equal(t, "http://example.test:9000", cfg.API.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Track.PollInterval())
	assert.Equal(t, 5, cfg.Track.MaxRetries)

	// Unset sections fall back to defaults
	assert.Equal(t, 2*time.Second, cfg.Track.BackoffBase())
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
