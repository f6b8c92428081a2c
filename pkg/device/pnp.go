package device

import (
	"context"
	"errors"

	"github.com/bft-labs/pnpcoord/pkg/lifecycle"
	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/pkg/request"
)

// PnPMinor is the minor function of a plug-and-play request.
type PnPMinor int

const (
	PnPStart PnPMinor = iota
	PnPQueryStop
	PnPCancelStop
	PnPStop
	PnPQueryRemove
	PnPCancelRemove
	PnPSurpriseRemoval
	PnPRemove
	PnPQueryCapabilities
)

// String returns a human-readable representation of the minor function.
func (m PnPMinor) String() string {
	switch m {
	case PnPStart:
		return "start"
	case PnPQueryStop:
		return "query-stop"
	case PnPCancelStop:
		return "cancel-stop"
	case PnPStop:
		return "stop"
	case PnPQueryRemove:
		return "query-remove"
	case PnPCancelRemove:
		return "cancel-remove"
	case PnPSurpriseRemoval:
		return "surprise-removal"
	case PnPRemove:
		return "remove"
	case PnPQueryCapabilities:
		return "query-capabilities"
	default:
		return "unknown"
	}
}

// NewPnP creates a plug-and-play request. A query-capabilities request
// carries a *power.Capabilities payload for the lower layer to fill in.
func NewPnP(minor PnPMinor) *request.Request {
	opts := []request.Option{request.WithMinor(int(minor))}
	if minor == PnPQueryCapabilities {
		opts = append(opts, request.WithPayload(&power.Capabilities{}))
	}
	return request.New(request.KindPnP, opts...)
}

// PnPMinorOf returns the plug-and-play minor function of r.
func PnPMinorOf(r *request.Request) PnPMinor {
	return PnPMinor(r.Minor)
}

// DispatchPnP handles a plug-and-play request. It may block while the
// instance drains, so it must be called from a context that can.
func (i *Instance) DispatchPnP(ctx context.Context, r *request.Request) request.Status {
	i.tracker.Increment()

	if i.lifecycle.IsDeleted() {
		r.Complete(request.StatusNoSuchDevice)
		i.tracker.Decrement()
		return request.StatusNoSuchDevice
	}

	minor := PnPMinorOf(r)
	i.logger.Debug("pnp request", log.Stringer("minor", minor))

	var status request.Status
	switch minor {
	case PnPStart:
		status = i.handleStart(ctx, r)
	case PnPQueryStop:
		status = i.handleQuery(ctx, r, lifecycle.TransitionStop)
	case PnPCancelStop:
		status = i.handleCancel(ctx, r, lifecycle.TransitionStop)
	case PnPStop:
		status = i.handleCommit(ctx, r, lifecycle.TransitionStop)
	case PnPQueryRemove:
		status = i.handleQuery(ctx, r, lifecycle.TransitionRemove)
	case PnPCancelRemove:
		status = i.handleCancel(ctx, r, lifecycle.TransitionRemove)
	case PnPSurpriseRemoval:
		status = i.handleCommit(ctx, r, lifecycle.TransitionSurpriseRemoval)
	case PnPRemove:
		// Remove consumes the charge.
		return i.handleRemove(ctx, r)
	case PnPQueryCapabilities:
		status = i.handleQueryCapabilities(r)
	default:
		status = i.lower.Forward(r)
	}

	i.tracker.Decrement()
	return status
}

// Start sends a start request and waits for it.
func (i *Instance) Start(ctx context.Context) error { return i.pnp(ctx, PnPStart) }

// QueryStop asks whether the instance can stop, draining in-flight work.
func (i *Instance) QueryStop(ctx context.Context) error { return i.pnp(ctx, PnPQueryStop) }

// CancelStop rolls back a QueryStop.
func (i *Instance) CancelStop(ctx context.Context) error { return i.pnp(ctx, PnPCancelStop) }

// Stop commits a QueryStop.
func (i *Instance) Stop(ctx context.Context) error { return i.pnp(ctx, PnPStop) }

// QueryRemove asks whether the instance can be removed.
func (i *Instance) QueryRemove(ctx context.Context) error { return i.pnp(ctx, PnPQueryRemove) }

// CancelRemove rolls back a QueryRemove.
func (i *Instance) CancelRemove(ctx context.Context) error { return i.pnp(ctx, PnPCancelRemove) }

// SurpriseRemove reports that the hardware disappeared.
func (i *Instance) SurpriseRemove(ctx context.Context) error {
	return i.pnp(ctx, PnPSurpriseRemoval)
}

// Remove deletes the instance once every outstanding operation finished.
func (i *Instance) Remove(ctx context.Context) error { return i.pnp(ctx, PnPRemove) }

// QueryCapabilities asks the lower layer for its capabilities and returns
// them adjusted.
func (i *Instance) QueryCapabilities(ctx context.Context) (power.Capabilities, error) {
	r := NewPnP(PnPQueryCapabilities)
	if err := i.run(ctx, r); err != nil {
		return power.Capabilities{}, err
	}
	return *r.Payload.(*power.Capabilities), nil
}

func (i *Instance) pnp(ctx context.Context, minor PnPMinor) error {
	return i.run(ctx, NewPnP(minor))
}

func (i *Instance) run(ctx context.Context, r *request.Request) error {
	i.DispatchPnP(ctx, r)
	status, err := r.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func (i *Instance) handleStart(ctx context.Context, r *request.Request) request.Status {
	status := i.forwardSync(r)
	if !status.OK() {
		return i.finish(r, status)
	}

	restart := i.lifecycle.State() == lifecycle.StateStopped
	if i.bindings != nil {
		if err := i.bindings.Attach(ctx); err != nil {
			i.logger.Error("failed to attach bindings", log.Err(err))
			return i.finish(r, request.StatusInsufficientResources)
		}
	}
	if err := i.startPlugins(ctx); err != nil {
		return i.finish(r, request.StatusUnsuccessful)
	}
	if !restart {
		i.register()
	}

	i.power.SetDeviceState(power.DeviceD0)
	if err := i.lifecycle.Start("start device"); err != nil {
		i.logger.Warn("start refused", log.Err(err))
		return i.finish(r, request.StatusInvalidDeviceState)
	}

	if err := i.wake.Arm(ctx, true); err != nil {
		i.logger.Debug("wake not armed", log.Err(err))
	}
	return i.finish(r, request.StatusSuccess)
}

func (i *Instance) handleQuery(ctx context.Context, r *request.Request, t lifecycle.Transition) request.Status {
	if t == lifecycle.TransitionRemove {
		if err := i.wake.Disarm(ctx, true); err != nil {
			i.logger.Warn("disarm before query-remove failed", log.Err(err))
		}
	}

	qctx, cancel := i.drainContext(ctx)
	defer cancel()

	if err := i.lifecycle.Query(qctx, t); err != nil {
		i.logger.Warn("query refused",
			log.Stringer("transition", t),
			log.Err(err),
		)
		if t == lifecycle.TransitionRemove {
			i.rearm(ctx)
		}
		return i.finish(r, statusFor(err))
	}
	return i.lower.Forward(r)
}

func (i *Instance) handleCancel(ctx context.Context, r *request.Request, t lifecycle.Transition) request.Status {
	status := i.forwardSync(r)
	if !status.OK() {
		return i.finish(r, status)
	}
	if i.lifecycle.Cancel(t) && t == lifecycle.TransitionRemove {
		i.rearm(ctx)
	}
	return i.finish(r, request.StatusSuccess)
}

func (i *Instance) handleCommit(ctx context.Context, r *request.Request, t lifecycle.Transition) request.Status {
	if err := i.lifecycle.Commit(ctx, t); err != nil && errors.Is(err, lifecycle.ErrInvalidTransition) {
		i.logger.Warn("commit refused",
			log.Stringer("transition", t),
			log.Err(err),
		)
		return i.finish(r, request.StatusInvalidDeviceState)
	}
	return i.lower.Forward(r)
}

func (i *Instance) handleRemove(ctx context.Context, r *request.Request) request.Status {
	rctx, cancel := i.drainContext(ctx)
	defer cancel()

	err := i.lifecycle.Remove(rctx)
	if errors.Is(err, lifecycle.ErrInvalidTransition) {
		i.tracker.Decrement()
		return i.finish(r, request.StatusInvalidDeviceState)
	}
	if err != nil {
		i.logger.Warn("remove completed with errors", log.Err(err))
	}

	status := i.lower.Forward(r)
	if cerr := i.Close(); cerr != nil {
		i.logger.Warn("close after remove failed", log.Err(cerr))
	}
	i.logger.Info("instance removed")
	return status
}

func (i *Instance) handleQueryCapabilities(r *request.Request) request.Status {
	status := i.forwardSync(r)
	if status.OK() {
		if caps, ok := r.Payload.(*power.Capabilities); ok {
			adjusted := power.AdjustCapabilities(*caps)
			*caps = adjusted
			i.power.SetCapabilities(adjusted)
			i.logger.Debug("capabilities updated",
				log.Stringer("system_wake", adjusted.SystemWake),
				log.Stringer("device_wake", adjusted.DeviceWake),
			)
		}
	}
	return i.finish(r, status)
}

// forwardSync sends r down and waits for the lower layer to finish it.
// The caller completes r afterwards.
func (i *Instance) forwardSync(r *request.Request) request.Status {
	done := make(chan struct{})
	r.PushHook(func(*request.Request) request.HookResult {
		close(done)
		return request.MoreProcessingRequired
	})
	i.lower.Forward(r)
	<-done
	return r.Status()
}

func (i *Instance) finish(r *request.Request, status request.Status) request.Status {
	r.Complete(status)
	return status
}

// rearm arms wake again after a cancelled removal, if started.
func (i *Instance) rearm(ctx context.Context) {
	if !i.started() {
		return
	}
	if err := i.wake.Arm(ctx, true); err != nil {
		i.logger.Debug("wake not re-armed", log.Err(err))
	}
}

func (i *Instance) startPlugins(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pluginsStarted {
		return nil
	}

	cfg := PluginConfig{
		Instance:   i.name,
		Flags:      i.flagStore,
		Logger:     i.logger,
		ApplyFlags: i.ApplyFlags,
	}
	for n, p := range i.plugins {
		if err := p.Initialize(ctx, cfg); err != nil {
			i.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			for j := n - 1; j >= 0; j-- {
				_ = i.plugins[j].Shutdown(ctx)
			}
			return err
		}
		i.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}
	i.pluginsStarted = true
	return nil
}

func statusFor(err error) request.Status {
	if errors.Is(err, lifecycle.ErrInvalidTransition) {
		return request.StatusInvalidDeviceState
	}
	return request.FromError(err)
}
