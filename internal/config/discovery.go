package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $SATCHEL_CONFIG, ~/.config/satchel/config.yaml, /etc/satchel/config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("SATCHEL_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "satchel", "config.yaml")
		if fileExists(userConfig) {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/satchel/config.yaml"
	if fileExists(systemConfig) {
		return systemConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $SATCHEL_CONFIG, ~/.config/satchel/config.yaml, /etc/satchel/config.yaml)")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
