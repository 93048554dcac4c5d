package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Default file permissions for created directories
const DefaultDirPermissions = 0750

// Status server default port
const DefaultServerPort = 8835

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Watch defaults: 500ms size polls, 10 attempts before abandoning
	v.SetDefault("watch.root", "")
	v.SetDefault("watch.stability_interval_ms", 500)
	v.SetDefault("watch.stability_max_attempts", 10)
	v.SetDefault("watch.pending_channel_buffer", 64)

	// API defaults
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout_seconds", 120)
	v.SetDefault("api.requests_per_second", 5.0)

	// Track defaults: 2s polls, 3 retries, 2s backoff base (2s/4s/6s)
	v.SetDefault("track.poll_interval_ms", 2000)
	v.SetDefault("track.max_retries", 3)
	v.SetDefault("track.backoff_base_ms", 2000)

	// Status server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", DefaultServerPort)

	// Database defaults
	v.SetDefault("database.path", defaultDatabasePath())
}

// defaultDatabasePath returns ~/.soundpost/soundpost.db, falling back to the
// working directory when the home directory cannot be determined.
func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "soundpost.db"
	}
	return filepath.Join(home, ".soundpost", "soundpost.db")
}

// StabilityInterval returns the stability poll interval as a duration
func (c *WatchConfig) StabilityInterval() time.Duration {
	if c.StabilityIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.StabilityIntervalMs) * time.Millisecond
}

// PollInterval returns the job status poll interval as a duration
func (c *TrackConfig) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// BackoffBase returns the retry backoff base delay as a duration
func (c *TrackConfig) BackoffBase() time.Duration {
	if c.BackoffBaseMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// Timeout returns the API transport timeout as a duration
func (c *APIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
