package power

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bft-labs/pnpcoord/pkg/deferred"
	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/queue"
	"github.com/bft-labs/pnpcoord/pkg/request"
	"github.com/bft-labs/pnpcoord/pkg/tracker"
)

// ErrProtocolViolation is the panic value raised when the layer above
// breaks the power protocol, such as a second system request arriving
// while one is still correlated.
var ErrProtocolViolation = errors.New("pnpcoord: power protocol violation")

// correlation ties a system request to the device request issued for it.
type correlation struct {
	system *request.Request
	device *request.Request
}

// Coordinator maps system power requests to device power requests for one
// instance and sequences the device side against request admission.
//
// Every request handed to Dispatch carries one tracker charge taken by the
// caller; the coordinator returns it when it is done with the request.
type Coordinator struct {
	mu      sync.Mutex
	system  SystemState
	device  DeviceState
	pending *correlation
	caps    Capabilities

	queue    *queue.Queue
	tracker  *tracker.Tracker
	deferred *deferred.Dispatcher
	lower    request.Forwarder

	issue     func(r *request.Request) error
	hook      ActionHook
	wakeArmed func() bool
	canResume func() bool
	observer  Observer
	logger    log.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Coordinator) { c.logger = log.OrNoop(logger) }
}

// WithActionHook sets the device-specific power behaviour.
func WithActionHook(h ActionHook) Option {
	return func(c *Coordinator) {
		if h != nil {
			c.hook = h
		}
	}
}

// WithIssuer sets how correlated device requests are sent to the top of
// the instance. The issuer takes the tracker charge for the request. The
// default dispatches straight back into the coordinator.
func WithIssuer(issue func(r *request.Request) error) Option {
	return func(c *Coordinator) { c.issue = issue }
}

// WithWakeArmed lets the system-to-device mapping account for wake.
func WithWakeArmed(armed func() bool) Option {
	return func(c *Coordinator) { c.wakeArmed = armed }
}

// WithResumeGate limits when a return to D0 may resume admission, for
// example only while the lifecycle is started.
func WithResumeGate(canResume func() bool) Option {
	return func(c *Coordinator) { c.canResume = canResume }
}

// WithObserver reports recorded power state changes.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithCapabilities sets the initial capability table.
func WithCapabilities(caps Capabilities) Option {
	return func(c *Coordinator) { c.caps = caps }
}

// NewCoordinator creates a coordinator for an instance in S0/D3.
func NewCoordinator(q *queue.Queue, t *tracker.Tracker, d *deferred.Dispatcher, lower request.Forwarder, opts ...Option) *Coordinator {
	c := &Coordinator{
		system:   SystemWorking,
		device:   DeviceD3,
		caps:     DefaultCapabilities(),
		queue:    q,
		tracker:  t,
		deferred: d,
		lower:    lower,
		hook:     NoopActionHook{},
		logger:   log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.issue == nil {
		c.issue = func(r *request.Request) error {
			c.tracker.Increment()
			c.Dispatch(r)
			return nil
		}
	}
	return c
}

// SystemState returns the last recorded system power state.
func (c *Coordinator) SystemState() SystemState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.system
}

// DeviceState returns the current device power state.
func (c *Coordinator) DeviceState() DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// SetDeviceState records a device power state reached outside a power
// request, such as D0 after start.
func (c *Coordinator) SetDeviceState(d DeviceState) {
	c.mu.Lock()
	old := c.device
	c.device = d
	c.mu.Unlock()
	c.notifyDevice(old, d)
}

// Capabilities returns the capability table.
func (c *Coordinator) Capabilities() Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// SetCapabilities replaces the capability table.
func (c *Coordinator) SetCapabilities(caps Capabilities) {
	c.mu.Lock()
	c.caps = caps
	c.mu.Unlock()
}

// HasPendingSystem reports whether a system request is waiting on its
// device request.
func (c *Coordinator) HasPendingSystem() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Dispatch handles a set or query power request. Other minor functions are
// forwarded unchanged. Dispatch never blocks; work that has to wait for a
// drain runs on the deferred dispatcher.
func (c *Coordinator) Dispatch(r *request.Request) request.Status {
	p, ok := ParamsOf(r)
	minor := MinorOf(r)
	if !ok || (minor != MinorSet && minor != MinorQuery) {
		status := c.lower.Forward(r)
		c.tracker.Decrement()
		return status
	}
	if p.Type == TypeSystem {
		return c.dispatchSystem(r, minor, p)
	}
	return c.dispatchDevice(r, minor, p)
}

func (c *Coordinator) dispatchSystem(r *request.Request, minor Minor, p *Params) request.Status {
	if minor == MinorSet {
		c.mu.Lock()
		old := c.system
		c.system = p.System
		c.mu.Unlock()
		if c.observer != nil && old != p.System {
			c.observer.OnSystemPowerState(old, p.System)
		}
	}

	c.logger.Debug("system power request",
		log.Stringer("minor", minor),
		log.Stringer("state", p.System),
		log.String("id", r.ID.String()),
	)

	r.MarkPending()
	r.PushHook(func(r *request.Request) request.HookResult {
		return c.onSystemComplete(r, minor, p)
	})
	c.lower.Forward(r)
	return request.StatusPending
}

// onSystemComplete runs once the layers below have finished the system
// request and issues the correlated device request.
func (c *Coordinator) onSystemComplete(r *request.Request, minor Minor, p *Params) request.HookResult {
	if !r.Status().OK() {
		c.logger.Debug("system power request failed below",
			log.Stringer("status", r.Status()),
		)
		c.tracker.Decrement()
		return request.Continue
	}

	wakeArmed := c.wakeArmed != nil && c.wakeArmed()
	d := c.Capabilities().DeviceStateFor(p.System, wakeArmed)

	var dreq *request.Request
	if minor == MinorSet {
		dreq = NewSetDevice(d, "system "+p.System.String())
	} else {
		dreq = NewQueryDevice(d, "system "+p.System.String())
	}

	c.mu.Lock()
	if prev := c.pending; prev != nil {
		c.mu.Unlock()
		panic(fmt.Errorf("%w: system request %s arrived while %s is pending",
			ErrProtocolViolation, r.ID, prev.system.ID))
	}
	c.pending = &correlation{system: r, device: dreq}
	c.mu.Unlock()

	dreq.OnComplete(c.onDeviceRequestDone)
	if err := c.issue(dreq); err != nil {
		c.mu.Lock()
		if c.pending != nil && c.pending.system == r {
			c.pending = nil
		}
		c.mu.Unlock()

		c.logger.Warn("device power request not issued", log.Err(err))
		r.SetStatus(request.StatusInsufficientResources)
		c.tracker.Decrement()
		return request.Continue
	}
	return request.MoreProcessingRequired
}

// onDeviceRequestDone completes the correlated system request with the
// device request's status. It runs after the device request is finalized,
// so completion is always device first.
func (c *Coordinator) onDeviceRequestDone(dreq *request.Request) {
	c.mu.Lock()
	corr := c.pending
	if corr == nil || corr.device != dreq {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	corr.system.Complete(dreq.Status())
	c.tracker.Decrement()
}

func (c *Coordinator) dispatchDevice(r *request.Request, minor Minor, p *Params) request.Status {
	c.logger.Debug("device power request",
		log.Stringer("minor", minor),
		log.Stringer("state", p.Device),
		log.String("id", r.ID.String()),
	)

	if minor == MinorQuery {
		if p.Device == DeviceD0 {
			status := c.lower.Forward(r)
			c.tracker.Decrement()
			return status
		}
		r.MarkPending()
		if err := c.schedule(r, minor, p, false); err != nil {
			r.Complete(request.StatusInsufficientResources)
			c.tracker.Decrement()
			return request.StatusInsufficientResources
		}
		return request.StatusPending
	}

	if p.Device == DeviceD0 {
		c.fastCompleteResume(r)
	}

	r.MarkPending()
	if p.Device.MorePoweredThan(c.DeviceState()) {
		// Power must be on before the instance touches the hardware.
		r.PushHook(func(r *request.Request) request.HookResult {
			return c.onPowerUpForwarded(r, minor, p)
		})
		c.lower.Forward(r)
		return request.StatusPending
	}

	if err := c.schedule(r, minor, p, false); err != nil {
		r.Complete(request.StatusInsufficientResources)
		c.tracker.Decrement()
		return request.StatusInsufficientResources
	}
	return request.StatusPending
}

// fastCompleteResume completes a pending set-S0 system request as soon as
// its D0 device request starts, instead of after the device work ends.
// Only the resume-to-working transition gets this treatment.
func (c *Coordinator) fastCompleteResume(dreq *request.Request) {
	c.mu.Lock()
	corr := c.pending
	if corr == nil || corr.device != dreq {
		c.mu.Unlock()
		return
	}
	sp, _ := ParamsOf(corr.system)
	if sp == nil || MinorOf(corr.system) != MinorSet || sp.System != SystemWorking {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	c.logger.Debug("resume completed ahead of device power-up",
		log.String("system", corr.system.ID.String()),
	)
	corr.system.Complete(request.StatusSuccess)
	c.tracker.Decrement()
}

func (c *Coordinator) onPowerUpForwarded(r *request.Request, minor Minor, p *Params) request.HookResult {
	if !r.Status().OK() {
		c.tracker.Decrement()
		return request.Continue
	}
	if err := c.schedule(r, minor, p, true); err != nil {
		r.SetStatus(request.StatusInsufficientResources)
		c.tracker.Decrement()
		return request.Continue
	}
	return request.MoreProcessingRequired
}

// schedule runs the device-side handling of r on the deferred dispatcher.
func (c *Coordinator) schedule(r *request.Request, minor Minor, p *Params, forwarded bool) error {
	var err error
	if minor == MinorQuery {
		err = c.deferred.Run(context.Background(), "device-power-query", func(ctx context.Context) {
			c.handleDeviceQuery(ctx, r, p)
		})
	} else {
		err = c.deferred.Run(context.Background(), "device-power-set", func(ctx context.Context) {
			c.handleDeviceSet(ctx, r, p, forwarded)
		})
	}
	if err != nil {
		c.logger.Warn("device power work not scheduled",
			log.Stringer("state", p.Device),
			log.Err(err),
		)
	}
	return err
}

func (c *Coordinator) handleDeviceSet(ctx context.Context, r *request.Request, p *Params, forwarded bool) {
	c.mu.Lock()
	old := c.device
	c.device = p.Device
	c.mu.Unlock()

	if old == p.Device {
		if p.Device == DeviceD0 {
			c.resume()
		}
		c.finalizeDevice(r, forwarded, request.StatusSuccess)
		return
	}
	c.notifyDevice(old, p.Device)

	if old == DeviceD0 {
		c.holdAndDrain(ctx, false)
	}

	if status := c.hook.OnPowerTransition(ctx, old, p.Device, p.Reason); !status.OK() {
		c.logger.Warn("power action hook failed",
			log.Stringer("from", old),
			log.Stringer("to", p.Device),
			log.Stringer("status", status),
		)
	}

	if p.Device == DeviceD0 {
		c.resume()
	}
	c.finalizeDevice(r, forwarded, request.StatusSuccess)
}

func (c *Coordinator) handleDeviceQuery(ctx context.Context, r *request.Request, p *Params) {
	status := c.holdAndDrain(ctx, true)
	if !status.OK() {
		c.logger.Info("device power query refused",
			log.Stringer("state", p.Device),
			log.Stringer("status", status),
		)
		c.resume()
	}
	c.finalizeDevice(r, false, status)
}

// holdAndDrain puts the queue on hold and waits for in-flight operations.
// The power requests being processed hold charges of their own; those are
// released for the wait.
func (c *Coordinator) holdAndDrain(ctx context.Context, query bool) request.Status {
	charges := 1
	c.mu.Lock()
	if c.pending != nil {
		charges++
	}
	c.mu.Unlock()

	c.queue.SetState(queue.StateHold)
	c.tracker.Release(charges)
	err := c.tracker.WaitIdle(ctx)

	status := request.StatusSuccess
	if err == nil && query {
		status = c.hook.CanSuspend(ctx)
	}
	c.tracker.Acquire(charges)

	if err != nil {
		c.logger.Warn("drain before power-down interrupted", log.Err(err))
		return request.StatusUnsuccessful
	}
	return status
}

// resume reopens admission after the instance is back in D0.
func (c *Coordinator) resume() {
	if c.canResume != nil && !c.canResume() {
		return
	}
	c.queue.SetState(queue.StateAllow)
	c.queue.Replay()
}

// finalizeDevice finishes a device request. A request already forwarded,
// or one that failed locally, completes here; otherwise it goes down now.
func (c *Coordinator) finalizeDevice(r *request.Request, forwarded bool, status request.Status) {
	if forwarded || !status.OK() {
		r.Complete(status)
		c.tracker.Decrement()
		return
	}
	c.lower.Forward(r)
	c.tracker.Decrement()
}

func (c *Coordinator) notifyDevice(old, new DeviceState) {
	if old == new {
		return
	}
	c.logger.Info("device power state",
		log.Stringer("from", old),
		log.Stringer("to", new),
	)
	if c.observer != nil {
		c.observer.OnDevicePowerState(old, new)
	}
}
