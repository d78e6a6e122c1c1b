package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"loopauth/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/loopauth"
	configFileName = "config.yaml"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// GetDefaultConfigPath returns ~/.config/loopauth.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath on top of the defaults. A
// missing file is not an error.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		return Config{}, &ConfigurationError{FilePath: configFilePath, ErrorType: "io", Message: err.Error()}
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, &ConfigurationError{FilePath: configFilePath, ErrorType: "parse", Message: err.Error()}
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}
