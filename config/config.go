// Package config loads and watches the soundpost configuration.
//
// Configuration is merged from (lowest to highest precedence):
// defaults, ~/.soundpost/config.toml, a project-level soundpost.toml found
// by walking up from the working directory, and SOUNDPOST_* environment
// variables. Every tunable of the pipeline lives here so the core can be
// tuned without recompilation.
package config

// Config represents the soundpost configuration
type Config struct {
	Watch    WatchConfig    `mapstructure:"watch"`
	API      APIConfig      `mapstructure:"api"`
	Track    TrackConfig    `mapstructure:"track"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
}

// WatchConfig configures directory watching and file stability detection
type WatchConfig struct {
	Root                  string `mapstructure:"root"`                    // Directory to watch for recordings
	StabilityIntervalMs   int    `mapstructure:"stability_interval_ms"`   // Delay between size polls (default: 500)
	StabilityMaxAttempts  int    `mapstructure:"stability_max_attempts"`  // Size polls before abandoning a file (default: 10)
	PendingChannelBuffer  int    `mapstructure:"pending_channel_buffer"`  // Buffer for detected-file events (default: 64)
}

// APIConfig configures the remote audio processing job API
type APIConfig struct {
	BaseURL           string  `mapstructure:"base_url"`            // e.g., "http://localhost:8000"
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`     // Per-request transport timeout (default: 120)
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // Client-side rate limit (default: 5)
}

// TrackConfig configures job status polling and retry behavior
type TrackConfig struct {
	PollIntervalMs   int `mapstructure:"poll_interval_ms"`   // Delay between status polls (default: 2000)
	MaxRetries       int `mapstructure:"max_retries"`        // Automatic retries for a failed job (default: 3)
	BackoffBaseMs    int `mapstructure:"backoff_base_ms"`    // Retry n waits n*base (default: 2000 → 2s/4s/6s)
}

// ServerConfig configures the local status server
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"` // Serve /status and /ws while watching (default: false)
	Port    int  `mapstructure:"port"`    // Status server port (default: 8835)
}

// DatabaseConfig configures the SQLite job history database
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // default: ~/.soundpost/soundpost.db
}
