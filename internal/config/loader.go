package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mcpauth/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/mcpauth"
	configFileName = "config.yaml"

	// ConfigDirEnv overrides the configuration directory.
	ConfigDirEnv = "MCPAUTH_CONFIG_DIR"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// ResolveConfigDir returns the configuration directory: $MCPAUTH_CONFIG_DIR
// when set, else ~/.config/mcpauth.
func ResolveConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}

	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// ConfigFilePath returns the path of config.yaml inside configDir.
func ConfigFilePath(configDir string) string {
	return filepath.Join(configDir, configFileName)
}

// LoadConfig loads config.yaml from the specified directory. A missing file
// yields the default configuration.
func LoadConfig(configDir string) (Config, error) {
	configFilePath := ConfigFilePath(configDir)
	config := GetDefaultConfig() // Start with default config

	data, err := os.ReadFile(configFilePath) // #nosec G304 -- path is the user's own config file
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		return Config{}, NewConfigurationError(configFilePath, "io", fmt.Sprintf("failed to read config: %v", err))
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		// config malformed
		return Config{}, NewConfigurationErrorWithDetails(configFilePath, "parse", "invalid YAML", err.Error(),
			[]string{"Check the file for indentation errors", "Remove the file to start from defaults"})
	}
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return Config{}, NewConfigurationErrorWithDetails(configFilePath, "validation", "invalid configuration", err.Error(), nil)
	}

	logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

// SaveConfig writes config to config.yaml in configDir with owner-only
// permissions, creating the directory when needed.
func SaveConfig(configDir string, config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(&config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configFilePath := ConfigFilePath(configDir)
	if err := os.WriteFile(configFilePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.CallbackPort == 0 {
		config.CallbackPort = DefaultCallbackPort
	}
	if config.ClientName == "" {
		config.ClientName = DefaultClientName
	}
	if config.Servers == nil {
		config.Servers = map[string]ServerConfig{}
	}
}
