package device

import (
	"github.com/bft-labs/pnpcoord/pkg/lifecycle"
	"github.com/bft-labs/pnpcoord/pkg/power"
)

// EventHandler receives instance events. Methods are called synchronously
// from whichever goroutine caused the change and must not block.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnPowerChange(event PowerChangeEvent)
}

// StateChangeEvent describes a lifecycle transition.
type StateChangeEvent struct {
	Instance string
	Previous lifecycle.State
	Current  lifecycle.State
	Reason   string
}

// PowerChangeEvent describes a recorded power state change. Only the
// fields for Type are set.
type PowerChangeEvent struct {
	Instance       string
	Type           power.Type
	PreviousSystem power.SystemState
	CurrentSystem  power.SystemState
	PreviousDevice power.DeviceState
	CurrentDevice  power.DeviceState
}

// eventEmitterWrapper adapts EventHandler to the lifecycle and power
// listener interfaces.
type eventEmitterWrapper struct {
	instance string
	handler  EventHandler
}

func (e *eventEmitterWrapper) OnStateChange(previous, current lifecycle.State, reason string) {
	if e.handler == nil {
		return
	}
	e.handler.OnStateChange(StateChangeEvent{
		Instance: e.instance,
		Previous: previous,
		Current:  current,
		Reason:   reason,
	})
}

func (e *eventEmitterWrapper) OnSystemPowerState(old, new power.SystemState) {
	if e.handler == nil {
		return
	}
	e.handler.OnPowerChange(PowerChangeEvent{
		Instance:       e.instance,
		Type:           power.TypeSystem,
		PreviousSystem: old,
		CurrentSystem:  new,
	})
}

func (e *eventEmitterWrapper) OnDevicePowerState(old, new power.DeviceState) {
	if e.handler == nil {
		return
	}
	e.handler.OnPowerChange(PowerChangeEvent{
		Instance:       e.instance,
		Type:           power.TypeDevice,
		PreviousDevice: old,
		CurrentDevice:  new,
	})
}
