package app

import (
	"fmt"
	"os"
	"path/filepath"

	"torrentsready/internal/config"
)

// Defaults are the locations trd uses before a config file says otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves the config file and data directory. Each is taken
// from its own variable first, then the XDG base directory, then the home
// directory:
//   - TR_CONFIG_PATH, $XDG_CONFIG_HOME/trd.toml, ~/.config/trd.toml
//   - TR_HOME, $XDG_DATA_HOME/trd, ~/.local/share/trd
func GetDefaults() (*Defaults, error) {
	configPath, err := resolve("TR_CONFIG_PATH", "XDG_CONFIG_HOME", "trd.toml", ".config")
	if err != nil {
		return nil, err
	}
	baseDir, err := resolve("TR_HOME", "XDG_DATA_HOME", "trd", filepath.Join(".local", "share"))
	if err != nil {
		return nil, err
	}
	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

func resolve(env, xdgEnv, name, homeRel string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdgEnv); dir != "" {
		return filepath.Join(dir, name), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, homeRel, name), nil
}

// NewConfig returns a config for a fresh instance rooted at BaseDir.
func (d *Defaults) NewConfig(instanceID string) *config.Config {
	return config.NewConfig(instanceID, d.BaseDir)
}

// ReadConfig reads the config file at ConfigPath.
func (d *Defaults) ReadConfig() (*config.Config, error) {
	cfg, err := config.ReadFromFile(d.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}
