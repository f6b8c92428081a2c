package device

import (
	"github.com/bft-labs/pnpcoord/pkg/flags"
	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/power"
)

// Option configures optional behavior of an Instance.
type Option func(*options)

type options struct {
	logger       log.Logger
	eventHandler EventHandler
	ioHandler    IOHandler
	actionHook   power.ActionHook
	capabilities power.Capabilities
	bindings     Bindings
	registry     Registry
	flagStore    flags.Store
	plugins      []Plugin
}

func defaultOptions() options {
	return options{
		logger:       log.NewNoopLogger(),
		capabilities: power.DefaultCapabilities(),
	}
}

// WithLogger sets a custom logger. If not provided, a no-op logger is used.
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = log.OrNoop(logger) }
}

// WithEventHandler sets a handler for lifecycle and power events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) { o.eventHandler = handler }
}

// WithIOHandler sets the handler for admitted I/O requests. The default
// completes create and close locally and forwards everything else.
func WithIOHandler(h IOHandler) Option {
	return func(o *options) { o.ioHandler = h }
}

// WithActionHook sets the device-specific power behaviour.
func WithActionHook(h power.ActionHook) Option {
	return func(o *options) { o.actionHook = h }
}

// WithCapabilities sets the capability table used until the lower layer
// reports its own on a query-capabilities request.
func WithCapabilities(caps power.Capabilities) Option {
	return func(o *options) { o.capabilities = caps }
}

// WithBindings sets the hardware bindings attached on start.
func WithBindings(b Bindings) Option {
	return func(o *options) { o.bindings = b }
}

// WithRegistry sets the instrumentation registry.
func WithRegistry(r Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithFlagStore sets where the wake-enabled and idle-detection flags
// persist.
func WithFlagStore(s flags.Store) Option {
	return func(o *options) { o.flagStore = s }
}

// WithPlugin registers a plugin.
func WithPlugin(p Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, p) }
}
