package power

import (
	"context"

	"github.com/bft-labs/pnpcoord/pkg/request"
)

// ActionHook is the device-specific side of a power transition. Both
// methods are only called from a blocking-capable context and must not
// block indefinitely.
type ActionHook interface {
	// OnPowerTransition saves or restores device context around a device
	// power change.
	OnPowerTransition(ctx context.Context, old, new DeviceState, reason string) request.Status

	// CanSuspend is asked during a device power query, after the queue has
	// drained. A non-success status vetoes the power-down.
	CanSuspend(ctx context.Context) request.Status
}

// NoopActionHook accepts every transition.
type NoopActionHook struct{}

// OnPowerTransition returns StatusSuccess.
func (NoopActionHook) OnPowerTransition(context.Context, DeviceState, DeviceState, string) request.Status {
	return request.StatusSuccess
}

// CanSuspend returns StatusSuccess.
func (NoopActionHook) CanSuspend(context.Context) request.Status {
	return request.StatusSuccess
}

// Observer is told about recorded power state changes.
type Observer interface {
	OnSystemPowerState(old, new SystemState)
	OnDevicePowerState(old, new DeviceState)
}
