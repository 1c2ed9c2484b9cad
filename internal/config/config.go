// Package config handles configuration loading and management for chainctl.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chainctl configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Store contains durable session store settings
	Store StoreConfig `yaml:"store"`

	// Chains contains chain definition settings
	Chains ChainsConfig `yaml:"chains"`

	// Gates contains gate resolution settings
	Gates GatesConfig `yaml:"gates"`

	// Logging contains logging settings
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig contains durable store settings.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ChainsConfig contains chain definition settings.
type ChainsConfig struct {
	Directory string `yaml:"directory"`
}

// GatesConfig contains gate resolution settings.
type GatesConfig struct {
	// Framework is the active methodology whose gates apply at tier 4
	Framework string `yaml:"framework"`
	// FrameworkGates are the gates mandated by the active framework
	FrameworkGates []GateConfig `yaml:"framework_gates"`
	// Fallback is the tier-5 default set, used only when tiers 1-4 are empty
	Fallback []GateConfig `yaml:"fallback"`
	// Categories maps prompt categories to their auto-applied gates (tier 3)
	Categories map[string][]GateConfig `yaml:"categories"`
}

// GateConfig declares a single gate in the config file.
type GateConfig struct {
	Name    string `yaml:"name"`
	Mode    string `yaml:"mode"` // self_eval or command
	Command string `yaml:"command,omitempty"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "chainctl",
		Version: "1.0.0",

		Store: StoreConfig{
			DatabasePath: ".chainctl/sessions.db",
		},

		Chains: ChainsConfig{
			Directory: "chains",
		},

		Gates: GatesConfig{
			Fallback: []GateConfig{
				{Name: "basic-sanity", Mode: "self_eval"},
			},
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("CHAINCTL_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if dir := os.Getenv("CHAINCTL_CHAINS_DIR"); dir != "" {
		c.Chains.Directory = dir
	}
	if fw := os.Getenv("CHAINCTL_FRAMEWORK"); fw != "" {
		c.Gates.Framework = fw
	}
	if os.Getenv("CHAINCTL_DEBUG") == "1" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	for _, g := range c.Gates.Fallback {
		if g.Name == "" {
			return fmt.Errorf("fallback gate with empty name")
		}
	}
	for cat, gs := range c.Gates.Categories {
		for _, g := range gs {
			if g.Name == "" {
				return fmt.Errorf("category %q gate with empty name", cat)
			}
		}
	}
	return nil
}
