// Package config resolves process-level bootstrap configuration: where the
// application data directory lives, which port the daemon listens on by
// default, and the debug/log-level flags. This is distinct from the
// Settings record in the persistence store, which is application data the
// store owns; config only needs to exist long enough to open that store.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Process is the bootstrap configuration for the zdmrd daemon.
type Process struct {
	DataDir string
	Port    int
	Debug   bool
}

// Load resolves configuration from (in ascending priority) defaults, an
// optional TOML file at <dataDir>/zdmr.toml, and ZDMR_-prefixed environment
// variables, the same layering viper gives the civitai-downloader example's
// config.
func Load() (*Process, error) {
	v := viper.New()
	v.SetEnvPrefix("ZDMR")
	v.AutomaticEnv()

	defaultDataDir, err := defaultDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving default data dir: %w", err)
	}
	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("port", 0) // 0 means "use Settings.LocalAPIPort"
	v.SetDefault("debug", false)

	v.SetConfigName("zdmr")
	v.SetConfigType("toml")
	v.AddConfigPath(defaultDataDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return &Process{
		DataDir: v.GetString("data_dir"),
		Port:    v.GetInt("port"),
		Debug:   v.GetBool("debug"),
	}, nil
}

// defaultDataDir follows OS conventions per spec.md §6 ("Application data
// directory follows OS conventions").
func defaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "zdmr"), nil
}
