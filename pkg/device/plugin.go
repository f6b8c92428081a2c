package device

import (
	"context"

	"github.com/bft-labs/pnpcoord/pkg/flags"
	"github.com/bft-labs/pnpcoord/pkg/log"
)

// Plugin extends an instance. Plugins are initialized on the first start,
// in registration order, and shut down in reverse order when the instance
// is removed or closed.
type Plugin interface {
	// Name returns a short identifier used in logs.
	Name() string

	// Initialize starts the plugin. Returning an error fails the start.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown stops the plugin.
	Shutdown(ctx context.Context) error
}

// PluginConfig is what a plugin gets from its instance.
type PluginConfig struct {
	Instance string
	Flags    flags.Store
	Logger   log.Logger

	// ApplyFlags re-reads the flag store and applies it to the instance.
	ApplyFlags func(ctx context.Context) error
}
