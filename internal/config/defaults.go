package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/drbgd/
//   - Linux:   $XDG_CONFIG_HOME/drbgd/ or ~/.config/drbgd/
//   - Windows: %APPDATA%\drbgd\
//
// DRBGD_CONFIG_DIR overrides all of them.
func PlatformConfigDir() string {
	if dir := os.Getenv("DRBGD_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "drbgd")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "drbgd")
		}
		return filepath.Join(home, "AppData", "Roaming", "drbgd")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "drbgd")
		}
		return filepath.Join(home, ".config", "drbgd")
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// SupportedConfigFormats returns the config file extensions Load accepts.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches the current directory and then the config
// directory for config.<ext>. It returns "" if none exists.
func FindConfigFile() string {
	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// HasTPMSupport reports whether the platform may expose a TPM device.
func HasTPMSupport() bool {
	return runtime.GOOS == "linux"
}
