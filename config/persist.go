package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/soundpost/soundpost/errors"
)

// SaveDefault writes a commented starter config to ~/.soundpost/config.toml.
// Existing files are never overwritten.
func SaveDefault() (string, error) {
	path := UserConfigPath()
	if path == "" {
		return "", errors.New("could not determine home directory")
	}

	if _, err := os.Stat(path); err == nil {
		return path, errors.Newf("config file already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return "", errors.Wrap(err, "failed to create .soundpost directory")
	}

	content := map[string]interface{}{
		"watch": map[string]interface{}{
			"root":                   "",
			"stability_interval_ms":  500,
			"stability_max_attempts": 10,
		},
		"api": map[string]interface{}{
			"base_url":        "http://localhost:8000",
			"timeout_seconds": 120,
		},
		"track": map[string]interface{}{
			"poll_interval_ms": 2000,
			"max_retries":      3,
			"backoff_base_ms":  2000,
		},
		"server": map[string]interface{}{
			"enabled": false,
			"port":    DefaultServerPort,
		},
	}

	data, err := toml.Marshal(content)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal default config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrap(err, "failed to write default config")
	}

	return path, nil
}
