package flagwatcher

import "github.com/bft-labs/pnpcoord/pkg/device"

// WithFlagWatcher returns a device Option that re-applies persisted flags
// whenever the flag file at cfg.Path changes.
//
// Usage:
//
//	inst, err := device.New(cfg, lower,
//	    device.WithFlagStore(flags.NewFileStore(path)),
//	    flagwatcher.WithFlagWatcher(flagwatcher.Config{Path: path}),
//	)
func WithFlagWatcher(cfg Config) device.Option {
	return device.WithPlugin(New(cfg))
}
