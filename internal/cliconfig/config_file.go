package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	LogLevel         string `toml:"log_level"`
	LogJSON          *bool  `toml:"log_json"`
	Scenario         string `toml:"scenario"`
	Iterations       int    `toml:"iterations"`
	Workers          int    `toml:"workers"`
	Instance         string `toml:"instance"`
	Latency          string `toml:"latency"`
	FlagsFile        string `toml:"flags_file"`
	FlagStore        string `toml:"flag_store"`
	WatchFlags       *bool  `toml:"watch_flags"`
	Capabilities     string `toml:"capabilities"`
	DeferredCapacity int    `toml:"deferred_capacity"`
	DrainTimeout     string `toml:"drain_timeout"`
	MetricsAddr      string `toml:"metrics_addr"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.pnpcoord/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".pnpcoord", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("scenario", fc.Scenario, &cfg.Scenario)
	s.setString("instance", fc.Instance, &cfg.Instance)
	s.setString("flags-file", fc.FlagsFile, &cfg.FlagsFile)
	s.setString("flag-store", fc.FlagStore, &cfg.FlagStore)
	s.setString("capabilities", fc.Capabilities, &cfg.Capabilities)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	if err := s.setDuration("latency", fc.Latency, &cfg.Latency); err != nil {
		return err
	}
	if err := s.setDuration("drain-timeout", fc.DrainTimeout, &cfg.DrainTimeout); err != nil {
		return err
	}

	s.setInt("iterations", fc.Iterations, &cfg.Iterations)
	s.setInt("workers", fc.Workers, &cfg.Workers)
	s.setInt("deferred-capacity", fc.DeferredCapacity, &cfg.DeferredCapacity)

	s.setBool("log-json", fc.LogJSON, &cfg.LogJSON)
	s.setBool("watch-flags", fc.WatchFlags, &cfg.WatchFlags)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
