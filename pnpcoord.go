// Package pnpcoord coordinates the plug-and-play lifecycle, request
// admission and power state of managed units.
//
// Example usage:
//
//	inst, err := pnpcoord.New(pnpcoord.DefaultConfig(), lower,
//	    pnpcoord.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := inst.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	inst.Submit(request.New(request.KindRead))
package pnpcoord

import (
	"github.com/bft-labs/pnpcoord/pkg/device"
	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/request"
)

// Instance is one coordinated unit.
type Instance = device.Instance

// Config holds the configuration of one instance.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = device.Config

// Option configures optional behavior of an Instance.
type Option = device.Option

// Snapshot is a point-in-time view of an instance.
type Snapshot = device.Snapshot

// New creates an instance on top of lower. See device.New.
func New(cfg Config, lower request.Forwarder, opts ...Option) (*Instance, error) {
	return device.New(cfg, lower, opts...)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return device.DefaultConfig()
}

// WithLogger sets a custom logger. If not provided, a no-op logger is used.
func WithLogger(logger log.Logger) Option {
	return device.WithLogger(logger)
}
