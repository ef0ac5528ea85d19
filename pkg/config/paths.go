package config

import (
	"path/filepath"

	"github.com/spf13/viper"
)

// BaseSettingsDir is the directory holding the active settings file, or the
// working directory when none was loaded.
func BaseSettingsDir() string {
	// Check if config.path is explicitly set (for testing)
	if configPath := viper.GetString("config.path"); configPath != "" {
		return configPath
	}

	currentConfig := viper.ConfigFileUsed()
	if currentConfig == "" {
		return "."
	}
	return filepath.Dir(currentConfig)
}

// BuildSettingsPath resolves target relative to the settings directory.
// Absolute paths are returned unchanged.
func BuildSettingsPath(target string) string {
	if filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(BaseSettingsDir(), target)
}
