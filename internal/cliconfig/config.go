package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/pnpcoord/pkg/deferred"
)

// Flag store backends.
const (
	FlagStoreMemory = "memory"
	FlagStoreTOML   = "toml"
	FlagStoreSQLite = "sqlite"
)

// Config holds CLI configuration for pnpcoord.
type Config struct {
	LogLevel string
	LogJSON  bool

	Scenario   string
	Iterations int
	Workers    int
	Instance   string
	Latency    time.Duration

	FlagsFile  string
	FlagStore  string
	WatchFlags bool

	Capabilities     string
	DeferredCapacity int
	DrainTimeout     time.Duration

	MetricsAddr string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		LogLevel:         "info",
		Scenario:         "all",
		Iterations:       10,
		Workers:          4,
		Instance:         "pnp0",
		Latency:          time.Millisecond,
		FlagStore:        FlagStoreMemory,
		DeferredCapacity: deferred.DefaultCapacity,
		DrainTimeout:     30 * time.Second,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Scenario == "" {
		return fmt.Errorf("scenario is required")
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.DeferredCapacity <= 0 {
		return fmt.Errorf("deferred capacity must be positive")
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("drain timeout must not be negative")
	}
	if c.Latency < 0 {
		return fmt.Errorf("latency must not be negative")
	}

	c.FlagStore = strings.ToLower(c.FlagStore)
	switch c.FlagStore {
	case FlagStoreMemory:
	case FlagStoreTOML, FlagStoreSQLite:
		if c.FlagsFile == "" {
			c.FlagsFile = DefaultFlagsPath(c.FlagStore)
		}
		if c.FlagsFile == "" {
			return fmt.Errorf("flags-file is required for the %s flag store", c.FlagStore)
		}
	default:
		return fmt.Errorf("unknown flag store %q (want memory, toml or sqlite)", c.FlagStore)
	}
	if c.WatchFlags && c.FlagStore != FlagStoreTOML {
		return fmt.Errorf("watch-flags is only supported with the toml flag store")
	}

	return nil
}

// DefaultFlagsPath returns the default flags file for a backend under
// ~/.pnpcoord.
func DefaultFlagsPath(store string) string {
	h, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	name := "flags.toml"
	if store == FlagStoreSQLite {
		name = "flags.db"
	}
	return filepath.Join(h, ".pnpcoord", name)
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
