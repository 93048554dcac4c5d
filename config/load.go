package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/soundpost/soundpost/errors"
)

var (
	globalConfig  *Config
	viperInstance *viper.Viper
	globalMu      sync.Mutex
)

// Load reads the soundpost configuration using Viper
func Load() (*Config, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &config
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &config, nil
}

// Reset clears the cached configuration (useful for testing and hot reload)
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = nil
	viperInstance = nil
}

// initViper initializes Viper with configuration sources and defaults.
// REQUIRES: globalMu held by caller.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	// Environment variable binding: SOUNDPOST_API_BASE_URL etc.
	v.SetEnvPrefix("SOUNDPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Merge config files in precedence order: user -> project -> env vars
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// UserConfigPath returns the path to the user config file (~/.soundpost/config.toml)
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".soundpost", "config.toml")
}

// findProjectConfig searches for soundpost.toml by walking up the directory tree.
// Returns the path to the first config file found, or empty string if none found.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, "soundpost.toml")
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges configuration files in precedence order (lowest first)
func mergeConfigFiles(v *viper.Viper) {
	configPaths := []string{}

	if user := UserConfigPath(); user != "" {
		// Ensure ~/.soundpost exists so later writes succeed
		os.MkdirAll(filepath.Dir(user), DefaultDirPermissions)
		configPaths = append(configPaths, user)
	}
	if project := findProjectConfig(); project != "" {
		configPaths = append(configPaths, project)
	}

	for _, path := range configPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		v.MergeInConfig()
	}
}
