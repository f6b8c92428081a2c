package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/pnpcoord/pkg/deferred"
)

// ErrInvalidConfig is returned by New for a configuration that fails
// validation.
var ErrInvalidConfig = errors.New("device: invalid config")

// Config holds the configuration of one instance.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config struct {
	// Name identifies the instance in logs and metrics.
	Name string

	// DeferredCapacity bounds the deferred work queue.
	DeferredCapacity int

	// DrainTimeout bounds how long a stop or remove waits for in-flight
	// operations. Zero waits indefinitely.
	DrainTimeout time.Duration

	// WakeEnabled is the initial wake-enabled flag, used when no flag
	// store is configured.
	WakeEnabled bool
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Name:             "pnp0",
		DeferredCapacity: deferred.DefaultCapacity,
	}
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.DeferredCapacity == 0 {
		c.DeferredCapacity = d.DeferredCapacity
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.DeferredCapacity < 1 {
		return fmt.Errorf("%w: deferred capacity must be positive, got %d", ErrInvalidConfig, c.DeferredCapacity)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("%w: drain timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}
