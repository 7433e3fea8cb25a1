// Package config loads and saves the YAML configuration for the nbaidx
// storage engine. cmd/nbaidx's root command loads a Config via
// --config (or the platform default path) and uses its DataDir/DBFile
// as the db-file default and its BTreeOrder as the --order default,
// each overridable by an explicit flag or positional argument.
//
// It is grounded on ssargent/freyjadb's pkg/config.Config: the same
// DefaultConfig/LoadConfig/SaveConfig trio, the same absolute-path
// normalization before read, and the same secure-permissions write on
// save. The HTTP-server fields (Port, Bind, Security) have no home in
// this engine, which has no network surface; see DESIGN.md.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the nbaidx engine configuration.
type Config struct {
	DataDir    string  `yaml:"data_dir"`
	DBFile     string  `yaml:"db_file"`
	BTreeOrder int     `yaml:"btree_order"`
	Logging    Logging `yaml:"logging"`
}

// Logging contains logging configuration.
type Logging struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a default configuration: the calibrated
// leaf-safe order from spec.md section 4.3's fan-out derivation.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "./data",
		DBFile:     "games.heap",
		BTreeOrder: 100,
		Logging: Logging{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from the specified path.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path with secure
// permissions.
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPath returns the default configuration path for the
// current platform.
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./nbaidx.yaml"
	}
	return filepath.Join(homeDir, ".config", "nbaidx", "config.yaml")
}

// ConfigExists checks if a configuration file exists.
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}
