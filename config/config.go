// Package config loads and saves the orchestrator's working-directory
// configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"vigil"
)

// FileName is the config file inside the working directory.
const FileName = "vigil.yaml"

// Config is everything the orchestrator reads at startup. Runtime
// mutations through the directory service are written back so a restart
// starts from the same state.
type Config struct {
	LogLevel string `yaml:"log_level,omitempty"`

	// MaxStorageBytes caps recorded video on disk; 0 leaves the disk
	// reclaimer at its default.
	MaxStorageBytes int64 `yaml:"max_storage_bytes,omitempty"`
	// CacheHours is how long unsaved clips stay before reclamation.
	CacheHours int `yaml:"cache_hours,omitempty"`

	WebPort int `yaml:"web_port,omitempty"`

	Cameras []vigil.CameraConfig `yaml:"cameras,omitempty"`
	Rules   []vigil.RuleDef      `yaml:"rules,omitempty"`
}

// Path returns the config file path for a working directory.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Load reads the config under dir. A missing file is an empty config,
// not an error.
func Load(dir string) (*Config, error) {
	data, err := os.ReadFile(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config under dir.
func (c *Config) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(Path(dir), data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
