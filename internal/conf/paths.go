package conf

import (
	"os"
	"path/filepath"

	"github.com/tphakala/deckbridge/internal/errors"
)

// ConfigFileName is the file viper looks for in each search directory.
const ConfigFileName = "config.yaml"

// systemConfigDir is searched last on unix-like systems.
var systemConfigDir = "/etc/" + AppName

// SearchDirs lists the directories that may hold config.yaml, highest
// precedence first: the working directory, the per-user config directory
// and, outside Windows, /etc/deckbridge.
func SearchDirs() ([]string, error) {
	userDir, err := userConfigDir()
	if err != nil {
		return nil, err
	}
	dirs := []string{".", userDir}
	if filepath.Separator == '/' {
		dirs = append(dirs, systemConfigDir)
	}
	return dirs, nil
}

// UserConfigPath returns where `deckbridge config init` writes by default.
func UserConfigPath() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// userConfigDir resolves the platform config directory: XDG_CONFIG_HOME or
// ~/.config on Linux, Application Support on macOS, AppData on Windows.
func userConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "resolve-config-dir").
			Build()
	}
	return filepath.Join(base, AppName), nil
}
