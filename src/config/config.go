package config

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "ppm"

// GetConfigDir returns $XDG_CONFIG_HOME/ppm or the OS equivalent.
func GetConfigDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// GetDataDir returns $XDG_DATA_HOME/ppm or the OS equivalent.
func GetDataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// GetRuntimeDir holds the daemon socket and pid file.
func GetRuntimeDir() string {
	return filepath.Join(xdg.RuntimeDir, appName)
}

// GetConfigFile returns the settings file location.
func GetConfigFile() string {
	return filepath.Join(GetConfigDir(), "config.toml")
}

// GetScriptsDir is where saved draft edit scripts live.
func GetScriptsDir() string {
	return filepath.Join(GetConfigDir(), "scripts")
}

// EnsureConfigDirs creates the config, data and runtime directories if they don't exist
func EnsureConfigDirs() error {
	for _, dir := range []string{GetConfigDir(), GetScriptsDir(), GetDataDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.MkdirAll(GetRuntimeDir(), 0700)
}
