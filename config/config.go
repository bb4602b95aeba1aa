// Package config provides configuration management for Pikman Update Manager.
// It handles loading, saving, and managing application settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pikaos-linux/pikman-update-manager/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// Escalator launches the helper with elevated rights. Empty runs the
	// helper directly, which only works when already root.
	Escalator string `yaml:"escalator"`
	// HelperPath is the privileged APT helper binary.
	HelperPath string `yaml:"helper_path"`
	// ExclusionsPath is where the exclusion list is handed to the helper.
	// Empty writes it into each run's private relay directory.
	ExclusionsPath string `yaml:"exclusions_path"`
	// SocketDir is the parent of the per-run relay directories.
	// Empty means the system temp directory.
	SocketDir string `yaml:"socket_dir"`
	// ReceiveBuffer is the relay's per-connection read size in bytes.
	ReceiveBuffer int `yaml:"receive_buffer"`
	// HandledGrace is how long to wait for the failure sentinel after the
	// helper exits with the handled code.
	HandledGrace time.Duration `yaml:"handled_grace"`
	// Exclusions are packages excluded from every upgrade by default.
	Exclusions []string `yaml:"exclusions"`
	// IncludeFlatpak also updates Flatpak refs after an APT upgrade.
	IncludeFlatpak bool `yaml:"include_flatpak"`
	// ShowNotifications enables desktop notifications when a run ends.
	ShowNotifications bool `yaml:"show_notifications"`
	// RecordHistory keeps a history of runs.
	RecordHistory bool `yaml:"record_history"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// Theme sets the color theme: "light", "dark", or "auto".
	Theme string `yaml:"theme"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Escalator:         common.DefaultEscalator,
		HelperPath:        common.DefaultHelperPath,
		ReceiveBuffer:     common.DefaultReceiveBuffer,
		HandledGrace:      common.HandledExitGrace,
		IncludeFlatpak:    true,
		ShowNotifications: true,
		RecordHistory:     true,
		LogLevel:          "info",
		Theme:             common.ThemeAuto,
	}
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom loads the configuration from path, writing defaults there when
// the file doesn't exist.
func LoadFrom(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.SaveTo(configPath); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	// Start from defaults so keys missing from an older file keep
	// sensible values.
	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: error parsing %s: %v", common.ErrConfigLoad, configPath, err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid configuration: %v", common.ErrConfigLoad, err)
	}

	return config, nil
}

// validate verifies that configuration values are valid
func (c *Config) validate() error {
	if c.HelperPath == "" {
		return fmt.Errorf("helper_path must not be empty")
	}
	if !filepath.IsAbs(c.HelperPath) {
		return fmt.Errorf("helper_path %q must be absolute", c.HelperPath)
	}
	if c.ExclusionsPath != "" && !filepath.IsAbs(c.ExclusionsPath) {
		return fmt.Errorf("exclusions_path %q must be absolute", c.ExclusionsPath)
	}
	if c.ReceiveBuffer <= 0 {
		return fmt.Errorf("receive_buffer must be positive, got %d", c.ReceiveBuffer)
	}
	if c.HandledGrace <= 0 {
		c.HandledGrace = common.HandledExitGrace
	}
	c.Exclusions = common.NormalizeNames(c.Exclusions)

	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		c.LogLevel = "info"
	}

	validThemes := []string{common.ThemeAuto, common.ThemeLight, common.ThemeDark}
	if !common.StringInSlice(c.Theme, validThemes) {
		c.Theme = common.ThemeAuto // Fallback to default
	}
	return nil
}

// Save saves the configuration to the default file.
func (c *Config) Save() error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

// SaveTo saves the configuration to path.
func (c *Config) SaveTo(configPath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("%w: error creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: error serializing configuration: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

// Path returns the default config file location.
func Path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}
