package wake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bft-labs/pnpcoord/pkg/deferred"
	"github.com/bft-labs/pnpcoord/pkg/flags"
	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/pkg/request"
	"github.com/bft-labs/pnpcoord/pkg/tracker"
)

var (
	// ErrWakeDisabled is returned by Arm when the wake-enabled flag is off.
	ErrWakeDisabled = errors.New("wake: disabled")

	// ErrArmingNotAllowed is returned by Arm while the lifecycle forbids
	// arming, for example before start or during removal.
	ErrArmingNotAllowed = errors.New("wake: arming not allowed")

	// ErrWakeUnsupported is returned by Arm when the capabilities report no
	// system state the instance can wake from.
	ErrWakeUnsupported = errors.New("wake: not supported by device")

	// ErrAlreadyArmed is returned by Arm when a wake flow is in progress.
	ErrAlreadyArmed = errors.New("wake: already armed")
)

// Machine owns the single outstanding wait-wake request of an instance.
//
// Arm and Disarm are serialized and may block; call them only from
// contexts that are allowed to. The wait-wake request itself holds no
// outstanding-operation charge while it is parked below.
type Machine struct {
	state atomic.Uint32

	// armMu serializes Arm and Disarm, including Disarm's wait.
	armMu   sync.Mutex
	current *request.Request

	// flowMu pairs state changes to and from Disarmed with the finished
	// event.
	flowMu   sync.Mutex
	finished *tracker.Event

	allowed atomic.Bool
	enabled atomic.Bool

	lower        request.Forwarder
	issue        func(r *request.Request) error
	deferred     *deferred.Dispatcher
	capabilities func() power.Capabilities
	store        flags.Store
	logger       log.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Machine) { m.logger = log.OrNoop(logger) }
}

// WithIssuer sets how a new wait-wake request is sent to the top of the
// instance. The default hands it straight to DispatchWaitWake.
func WithIssuer(issue func(r *request.Request) error) Option {
	return func(m *Machine) { m.issue = issue }
}

// WithCapabilities supplies the capability table consulted on Arm.
func WithCapabilities(caps func() power.Capabilities) Option {
	return func(m *Machine) { m.capabilities = caps }
}

// WithFlagStore persists the wake-enabled flag.
func WithFlagStore(s flags.Store) Option {
	return func(m *Machine) { m.store = s }
}

// WithEnabled sets the initial wake-enabled flag.
func WithEnabled(enabled bool) Option {
	return func(m *Machine) { m.enabled.Store(enabled) }
}

// NewMachine creates a disarmed machine. Arming is not allowed until an
// Arm call passes allow=true.
func NewMachine(lower request.Forwarder, d *deferred.Dispatcher, opts ...Option) *Machine {
	m := &Machine{
		finished: tracker.NewEvent(true),
		lower:    lower,
		deferred: d,
		logger:   log.NewNoopLogger(),
	}
	m.state.Store(uint32(Disarmed))
	for _, opt := range opts {
		opt(m)
	}
	if m.issue == nil {
		m.issue = func(r *request.Request) error {
			m.DispatchWaitWake(r)
			return nil
		}
	}
	return m
}

// State returns the current wake state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// Armed reports whether a wake flow is engaged and not being cancelled.
func (m *Machine) Armed() bool {
	s := m.State()
	return !s.Cancelled() && (s.Phase() == PhaseWaiting || s.Phase() == PhaseArmed)
}

// Enabled reports the wake-enabled flag.
func (m *Machine) Enabled() bool {
	return m.enabled.Load()
}

// Arm issues a wait-wake request. allow re-enables arming after it was
// disallowed by Disarm; lifecycle paths pass true, user-driven paths pass
// false so they cannot arm a stopped instance.
func (m *Machine) Arm(ctx context.Context, allow bool) error {
	m.armMu.Lock()
	defer m.armMu.Unlock()

	if allow {
		m.allowed.Store(true)
	} else if !m.allowed.Load() {
		return ErrArmingNotAllowed
	}
	if !m.enabled.Load() {
		return ErrWakeDisabled
	}

	systemWake := power.SystemWorking
	if m.capabilities != nil {
		caps := m.capabilities()
		if !caps.CanWake() {
			return ErrWakeUnsupported
		}
		systemWake = caps.SystemWake
	}

	m.flowMu.Lock()
	if !m.state.CompareAndSwap(uint32(Disarmed), uint32(Waiting)) {
		m.flowMu.Unlock()
		return ErrAlreadyArmed
	}
	m.finished.Clear()
	m.flowMu.Unlock()

	r := power.NewWaitWake(systemWake)
	r.OnComplete(m.onWakeFinished)
	m.current = r

	if err := m.issue(r); err != nil {
		m.flowMu.Lock()
		m.state.Store(uint32(Disarmed))
		m.finished.Set()
		m.flowMu.Unlock()
		return fmt.Errorf("wake: issue wait-wake: %w", err)
	}

	m.logger.Debug("wake armed",
		log.Stringer("system_wake", systemWake),
		log.String("id", r.ID.String()),
	)
	return nil
}

// Disarm revokes the outstanding wait-wake request, if any, and returns
// once the wake flow has fully finished. disallow also blocks future
// arming until an Arm with allow=true.
func (m *Machine) Disarm(ctx context.Context, disallow bool) error {
	m.armMu.Lock()
	defer m.armMu.Unlock()

	if disallow {
		m.allowed.Store(false)
	}

	old := m.markCancelled()
	if old == Disarmed {
		return nil
	}

	if old == Armed {
		r := m.current
		r.Cancel()
		// Hand completion back to the hook. If it already ran, it left the
		// request to us.
		if _, ok := m.compareAndSwap(ArmingCancelled, Armed); !ok {
			r.Complete(r.Status())
		}
	}

	if err := m.finished.Wait(ctx); err != nil {
		return fmt.Errorf("wake: wait for wake flow: %w", err)
	}
	m.logger.Debug("wake disarmed", log.Stringer("was", old))
	return nil
}

// SetEnabled persists the wake-enabled flag, then arms or disarms to
// match it.
func (m *Machine) SetEnabled(ctx context.Context, enabled bool) error {
	if err := m.persistEnabled(ctx, enabled); err != nil {
		return err
	}
	if enabled {
		return m.Arm(ctx, false)
	}
	return m.Disarm(ctx, false)
}

// DispatchWaitWake handles a wait-wake request reaching this instance.
func (m *Machine) DispatchWaitWake(r *request.Request) request.Status {
	if observed, ok := m.compareAndSwap(Waiting, Armed); !ok {
		if observed == WaitingCancelled {
			m.logger.Debug("wait-wake cancelled before dispatch")
			r.Complete(request.StatusCancelled)
			return request.StatusCancelled
		}
		m.logger.Warn("unexpected wait-wake request", log.Stringer("state", observed))
		r.Complete(request.StatusInvalidDeviceState)
		return request.StatusInvalidDeviceState
	}

	r.MarkPending()
	r.PushHook(m.onWaitWakeComplete)
	m.lower.Forward(r)
	return request.StatusPending
}

// onWaitWakeComplete runs when the layers below finish the wait-wake
// request. If Disarm is cancelling, completion is left to Disarm.
func (m *Machine) onWaitWakeComplete(r *request.Request) request.HookResult {
	old := State(m.state.Swap(uint32(Completing)))
	switch old {
	case Armed:
		return request.Continue
	case ArmingCancelled:
		return request.MoreProcessingRequired
	default:
		m.logger.Error("wait-wake completed in unexpected state", log.Stringer("state", old))
		return request.Continue
	}
}

// onWakeFinished runs after the wait-wake request is finalized.
func (m *Machine) onWakeFinished(r *request.Request) {
	m.flowMu.Lock()
	m.state.Store(uint32(Disarmed))
	m.finished.Set()
	m.flowMu.Unlock()

	status := r.Status()
	m.logger.Debug("wait-wake finished", log.Stringer("status", status))

	switch status {
	case request.StatusSuccess:
		m.logger.Info("wake signalled")
		m.followUp("wake-rearm", func(ctx context.Context) {
			if err := m.Arm(ctx, false); err != nil {
				m.logger.Debug("wake not re-armed", log.Err(err))
			}
		})
	case request.StatusNotSupported, request.StatusUnsuccessful, request.StatusNotImplemented:
		m.followUp("wake-disable", func(ctx context.Context) {
			if err := m.persistEnabled(ctx, false); err != nil {
				m.logger.Warn("failed to clear wake flag", log.Err(err))
				return
			}
			m.logger.Info("wake disabled by lower layer", log.Stringer("status", status))
		})
	}
}

func (m *Machine) followUp(name string, fn deferred.Callback) {
	// Always hand off: the caller may be inside Disarm's critical section.
	if err := m.deferred.Run(context.Background(), name, fn); err != nil {
		m.logger.Warn("wake follow-up not scheduled", log.String("work", name), log.Err(err))
	}
}

func (m *Machine) persistEnabled(ctx context.Context, enabled bool) error {
	if m.store != nil {
		if err := m.store.SetBool(ctx, flags.KeyWakeEnabled, enabled); err != nil {
			return fmt.Errorf("wake: persist flag: %w", err)
		}
	}
	m.enabled.Store(enabled)
	return nil
}

// markCancelled sets the cancel flag unless the flow is Disarmed or
// Completing, and returns the state it found.
func (m *Machine) markCancelled() State {
	for {
		cur := State(m.state.Load())
		if cur.Phase() == PhaseDisarmed || cur.Phase() == PhaseCompleting {
			return cur
		}
		if m.state.CompareAndSwap(uint32(cur), uint32(cur|cancelBit)) {
			return cur
		}
	}
}

// compareAndSwap moves from old to new and reports the state it observed.
func (m *Machine) compareAndSwap(old, new State) (State, bool) {
	for {
		cur := State(m.state.Load())
		if cur != old {
			return cur, false
		}
		if m.state.CompareAndSwap(uint32(old), uint32(new)) {
			return old, true
		}
	}
}
