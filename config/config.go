// Package config loads the application configuration consumed by manager
// initialization.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RedisConfig selects the redis-backed IPC transport when Addr is set.
// With an empty Addr, channel traffic stays in-process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config drives manager initialization.
type Config struct {
	// Extensions maps an extension identifier to its desired install
	// state: true means it should be installed, false uninstalled.
	Extensions map[string]bool `yaml:"extensions"`

	// ExtensionRoot overrides the directory installed extensions live in.
	ExtensionRoot string `yaml:"extension_root"`

	// Redis configures the optional redis IPC transport backend.
	Redis RedisConfig `yaml:"redis"`
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}
	if cfg.Extensions == nil {
		cfg.Extensions = make(map[string]bool)
	}
	return &cfg, nil
}
