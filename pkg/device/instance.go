package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bft-labs/pnpcoord/pkg/deferred"
	"github.com/bft-labs/pnpcoord/pkg/flags"
	"github.com/bft-labs/pnpcoord/pkg/lifecycle"
	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/pkg/queue"
	"github.com/bft-labs/pnpcoord/pkg/request"
	"github.com/bft-labs/pnpcoord/pkg/tracker"
	"github.com/bft-labs/pnpcoord/pkg/wake"
)

// Instance coordinates the lifecycle, request admission and power state of
// one managed unit sitting on top of a lower layer.
type Instance struct {
	name   string
	config Config
	logger log.Logger

	tracker   *tracker.Tracker
	queue     *queue.Queue
	deferred  *deferred.Dispatcher
	lifecycle *lifecycle.Machine
	power     *power.Coordinator
	wake      *wake.Machine

	lower     request.Forwarder
	handler   IOHandler
	bindings  Bindings
	registry  Registry
	flagStore flags.Store
	plugins   []Plugin

	idleDetection atomic.Bool

	mu             sync.Mutex
	registered     bool
	pluginsStarted bool
	closeOnce      sync.Once
}

// New creates an instance in lifecycle state NotStarted with its queue on
// hold. lower receives everything the instance forwards.
func New(cfg Config, lower request.Forwarder, opts ...Option) (*Instance, error) {
	if err := validateModuleVersions(); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lower == nil {
		return nil, fmt.Errorf("%w: lower layer is required", ErrInvalidConfig)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := log.With(o.logger, log.String("instance", cfg.Name))
	emitter := &eventEmitterWrapper{instance: cfg.Name, handler: o.eventHandler}

	i := &Instance{
		name:      cfg.Name,
		config:    cfg,
		logger:    logger,
		lower:     lower,
		handler:   o.ioHandler,
		bindings:  o.bindings,
		registry:  o.registry,
		flagStore: o.flagStore,
		plugins:   o.plugins,
	}
	if i.handler == nil {
		i.handler = forwardingHandler{lower: lower}
	}

	i.tracker = tracker.New(logger)
	i.deferred = deferred.New(
		deferred.WithCapacity(cfg.DeferredCapacity),
		deferred.WithLogger(logger),
	)
	i.queue = queue.New(i.tracker, i.dispatchIO,
		queue.WithLogger(logger),
		queue.WithTerminalCheck(i.isDeleted),
	)
	i.lifecycle = lifecycle.NewMachine(i.queue, i.tracker,
		lifecycle.WithLogger(logger),
		lifecycle.WithEventEmitter(emitter),
		lifecycle.WithTeardown(lifecycle.TeardownFunc(i.teardown)),
	)
	i.power = power.NewCoordinator(i.queue, i.tracker, i.deferred, lower,
		power.WithLogger(logger),
		power.WithActionHook(o.actionHook),
		power.WithCapabilities(o.capabilities),
		power.WithIssuer(i.issuePower),
		power.WithWakeArmed(func() bool { return i.wake.Armed() }),
		power.WithResumeGate(i.started),
		power.WithObserver(emitter),
	)
	i.wake = wake.NewMachine(lower, i.deferred,
		wake.WithLogger(logger),
		wake.WithIssuer(i.issuePower),
		wake.WithCapabilities(i.power.Capabilities),
		wake.WithEnabled(cfg.WakeEnabled),
		wake.WithFlagStore(o.flagStore),
	)

	return i, nil
}

// Name returns the instance name.
func (i *Instance) Name() string {
	return i.name
}

// State returns the lifecycle state.
func (i *Instance) State() lifecycle.State {
	return i.lifecycle.State()
}

// Submit admits an I/O request. It is rejected once the instance is
// deleted, parked while the queue is on hold and dispatched otherwise.
func (i *Instance) Submit(r *request.Request) request.Status {
	return i.queue.Submit(r)
}

// Cleanup cancels every parked request submitted by owner, typically when
// the owner's handle closes.
func (i *Instance) Cleanup(owner string) int {
	return i.queue.Cleanup(owner)
}

// DispatchPower handles a power request arriving at the instance. It
// never blocks.
func (i *Instance) DispatchPower(r *request.Request) request.Status {
	i.tracker.Increment()

	if i.lifecycle.IsDeleted() {
		r.Complete(request.StatusNoSuchDevice)
		i.tracker.Decrement()
		return request.StatusNoSuchDevice
	}

	if power.MinorOf(r) == power.MinorWaitWake {
		status := i.wake.DispatchWaitWake(r)
		i.tracker.Decrement()
		return status
	}

	if i.lifecycle.State() == lifecycle.StateNotStarted {
		status := i.lower.Forward(r)
		i.tracker.Decrement()
		return status
	}

	return i.power.Dispatch(r)
}

// Arm arms wake if the wake-enabled flag is set and the instance is in a
// state that allows it.
func (i *Instance) Arm(ctx context.Context) error {
	return i.wake.Arm(ctx, false)
}

// Disarm revokes an armed wake and waits for the wake flow to finish.
func (i *Instance) Disarm(ctx context.Context) error {
	return i.wake.Disarm(ctx, false)
}

// SetWakeEnabled persists the wake-enabled flag and arms or disarms to
// match it. Arming refused by the current lifecycle state is not an error.
func (i *Instance) SetWakeEnabled(ctx context.Context, enabled bool) error {
	return ignoreArmRefusal(i.wake.SetEnabled(ctx, enabled))
}

// SetIdleDetectionEnabled persists the idle-detection flag.
func (i *Instance) SetIdleDetectionEnabled(ctx context.Context, enabled bool) error {
	if i.flagStore != nil {
		if err := i.flagStore.SetBool(ctx, flags.KeyIdleDetectionEnabled, enabled); err != nil {
			return fmt.Errorf("device: persist idle detection flag: %w", err)
		}
	}
	i.idleDetection.Store(enabled)
	return nil
}

// ApplyFlags reloads the flag store and brings the instance in line with
// it.
func (i *Instance) ApplyFlags(ctx context.Context) error {
	if i.flagStore == nil {
		return nil
	}
	f, err := flags.Load(ctx, i.flagStore)
	if err != nil {
		return fmt.Errorf("device: load flags: %w", err)
	}

	i.idleDetection.Store(f.IdleDetectionEnabled)
	if f.WakeEnabled != i.wake.Enabled() {
		i.logger.Info("wake flag changed", log.Bool("enabled", f.WakeEnabled))
		if err := ignoreArmRefusal(i.wake.SetEnabled(ctx, f.WakeEnabled)); err != nil {
			return err
		}
	}
	return nil
}

// Capabilities returns the current capability table.
func (i *Instance) Capabilities() power.Capabilities {
	return i.power.Capabilities()
}

// Snapshot implements Source.
func (i *Instance) Snapshot() Snapshot {
	return Snapshot{
		Name:                 i.name,
		Lifecycle:            i.lifecycle.State(),
		Queue:                i.queue.State(),
		QueueDepth:           i.queue.Depth(),
		Outstanding:          i.tracker.Count(),
		SystemPower:          i.power.SystemState(),
		DevicePower:          i.power.DeviceState(),
		Wake:                 i.wake.State(),
		WakeEnabled:          i.wake.Enabled(),
		IdleDetectionEnabled: i.idleDetection.Load(),
	}
}

// Close releases the instance's workers and shuts plugins down. Remove
// calls it; call it directly only for an instance that is never removed.
func (i *Instance) Close() error {
	var err error
	i.closeOnce.Do(func() {
		i.mu.Lock()
		started := i.pluginsStarted
		i.pluginsStarted = false
		i.mu.Unlock()

		if started {
			ctx := context.Background()
			for j := len(i.plugins) - 1; j >= 0; j-- {
				p := i.plugins[j]
				if shutdownErr := p.Shutdown(ctx); shutdownErr != nil {
					i.logger.Error("plugin shutdown failed",
						log.String("plugin", p.Name()),
						log.Err(shutdownErr))
				} else {
					i.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
				}
			}
		}
		err = i.deferred.Close()
	})
	return err
}

func (i *Instance) isDeleted() bool {
	return i.lifecycle.IsDeleted()
}

func (i *Instance) started() bool {
	return i.lifecycle.State() == lifecycle.StateStarted
}

// issuePower sends a power request generated by the instance itself back
// through the top of the instance.
func (i *Instance) issuePower(r *request.Request) error {
	i.DispatchPower(r)
	return nil
}

// dispatchIO runs an admitted request. The request keeps a charge on the
// tracker until it completes so drains wait for it.
func (i *Instance) dispatchIO(r *request.Request) request.Status {
	i.tracker.Increment()
	r.PushHook(func(*request.Request) request.HookResult {
		i.tracker.Decrement()
		return request.Continue
	})
	return i.handler.Handle(r)
}

// drainContext applies the configured drain timeout to ctx.
func (i *Instance) drainContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if i.config.DrainTimeout > 0 {
		return context.WithTimeout(ctx, i.config.DrainTimeout)
	}
	return context.WithCancel(ctx)
}

func ignoreArmRefusal(err error) error {
	switch {
	case errors.Is(err, wake.ErrArmingNotAllowed),
		errors.Is(err, wake.ErrWakeUnsupported),
		errors.Is(err, wake.ErrAlreadyArmed):
		return nil
	default:
		return err
	}
}

// forwardingHandler completes create and close locally and forwards the
// rest to the lower layer.
type forwardingHandler struct {
	lower request.Forwarder
}

func (h forwardingHandler) Handle(r *request.Request) request.Status {
	switch r.Kind {
	case request.KindCreate, request.KindClose:
		r.Complete(request.StatusSuccess)
		return request.StatusSuccess
	default:
		return h.lower.Forward(r)
	}
}
