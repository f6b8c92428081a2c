package device

import (
	"context"

	"github.com/bft-labs/pnpcoord/pkg/lifecycle"
	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/pkg/queue"
	"github.com/bft-labs/pnpcoord/pkg/request"
	"github.com/bft-labs/pnpcoord/pkg/wake"
)

// IOHandler handles admitted create, close, read, write and control
// requests. It must complete r, now or later.
type IOHandler interface {
	Handle(r *request.Request) request.Status
}

// IOHandlerFunc adapts a function to an IOHandler.
type IOHandlerFunc func(r *request.Request) request.Status

// Handle calls f(r).
func (f IOHandlerFunc) Handle(r *request.Request) request.Status {
	return f(r)
}

// Bindings are the hardware resources an instance holds while started.
type Bindings interface {
	// Attach is called on every start.
	Attach(ctx context.Context) error
	// Detach is called when a stop, surprise removal or remove commits.
	Detach(ctx context.Context) error
}

// Registry publishes instance state to an instrumentation backend.
type Registry interface {
	Register(name string, src Source) error
	Deregister(name string) error
}

// Source is something a Registry can read snapshots from.
type Source interface {
	Snapshot() Snapshot
}

// Snapshot is a point-in-time view of an instance.
type Snapshot struct {
	Name                 string
	Lifecycle            lifecycle.State
	Queue                queue.State
	QueueDepth           int
	Outstanding          int64
	SystemPower          power.SystemState
	DevicePower          power.DeviceState
	Wake                 wake.State
	WakeEnabled          bool
	IdleDetectionEnabled bool
}
