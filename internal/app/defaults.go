package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the paths used when no flag overrides them.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CERCASP_CONFIG_PATH: config file location (default: ~/.config/cercasp.toml)
//   - CERCASP_HOME: base directory for local data (default: ~/.local/share/cercasp)
func GetDefaults() (Defaults, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return Defaults{}, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return Defaults{}, err
	}

	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("CERCASP_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "cercasp.toml"), nil
}

// getBaseDir falls back to the XDG data directory.
func getBaseDir() (string, error) {
	if path := os.Getenv("CERCASP_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "cercasp"), nil
}
