package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/queue"
	"github.com/bft-labs/pnpcoord/pkg/tracker"
)

// Machine is the lifecycle state machine of one instance. It drives the
// admission queue and drains the tracker around stop and remove.
type Machine struct {
	mu       sync.RWMutex
	state    State
	previous State

	queue    *queue.Queue
	tracker  *tracker.Tracker
	teardown Teardown
	emitter  EventEmitter
	logger   log.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Machine) { m.logger = log.OrNoop(logger) }
}

// WithEventEmitter sets the state change listener.
func WithEventEmitter(emitter EventEmitter) Option {
	return func(m *Machine) { m.emitter = emitter }
}

// WithTeardown sets the commit side effects.
func WithTeardown(t Teardown) Option {
	return func(m *Machine) { m.teardown = t }
}

// NewMachine creates a machine in StateNotStarted.
func NewMachine(q *queue.Queue, t *tracker.Tracker, opts ...Option) *Machine {
	m := &Machine{
		state:    StateNotStarted,
		previous: StateNotStarted,
		queue:    q,
		tracker:  t,
		logger:   log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Previous returns the state saved by the last transition.
func (m *Machine) Previous() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previous
}

// IsDeleted reports whether the terminal state has been reached.
func (m *Machine) IsDeleted() bool {
	return m.State() == StateDeleted
}

// TransitionTo moves to newState, saving the current state as previous.
// Returns ErrInvalidTransition if the edge is not in the lifecycle graph.
func (m *Machine) TransitionTo(newState State, reason string) error {
	m.mu.Lock()
	oldState := m.state
	if !canTransition(oldState, newState) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, oldState, newState)
	}
	m.previous = oldState
	m.state = newState
	m.mu.Unlock()

	m.emit(oldState, newState, reason)
	return nil
}

// Start moves to StateStarted and resumes admission.
func (m *Machine) Start(reason string) error {
	if err := m.TransitionTo(StateStarted, reason); err != nil {
		return err
	}
	m.queue.SetState(queue.StateAllow)
	m.queue.Replay()
	return nil
}

// Query enters the provisional state for t, puts the queue on hold and
// blocks until every other in-flight operation has finished. The caller
// must hold exactly one tracker charge; it is released for the wait and
// re-taken before returning. If ctx ends first the query is cancelled.
func (m *Machine) Query(ctx context.Context, t Transition) error {
	target, ok := t.pendingState()
	if !ok {
		return fmt.Errorf("%w: %s cannot be queried", ErrInvalidTransition, t)
	}
	if err := m.TransitionTo(target, "query "+t.String()); err != nil {
		return err
	}

	m.queue.SetState(queue.StateHold)
	m.tracker.Release(1)
	err := m.tracker.WaitIdle(ctx)
	m.tracker.Acquire(1)

	if err != nil {
		m.Cancel(t)
		return fmt.Errorf("lifecycle: drain for %s: %w", t, err)
	}
	return nil
}

// Cancel rolls a pending query for t back to the saved state. Admission
// resumes if the restored state is StateStarted. Returns false if t was
// not pending.
func (m *Machine) Cancel(t Transition) bool {
	target, ok := t.pendingState()
	if !ok {
		return false
	}

	m.mu.Lock()
	if m.state != target {
		m.mu.Unlock()
		return false
	}
	oldState := m.state
	m.state = m.previous
	restored := m.state
	m.mu.Unlock()

	m.emit(oldState, restored, "cancel "+t.String())

	if restored == StateStarted {
		m.queue.SetState(queue.StateAllow)
		m.queue.Replay()
	}
	return true
}

// Commit makes t permanent. Removal variants fail the queue and replay it
// so parked requests complete with "no such device". Teardown runs unless
// this is a remove following a surprise removal.
func (m *Machine) Commit(ctx context.Context, t Transition) error {
	if err := m.TransitionTo(t.committedState(), "commit "+t.String()); err != nil {
		return err
	}
	if t == TransitionRemove && m.Previous() == StateSurpriseRemovePending {
		m.logger.Debug("teardown already done by surprise removal")
		return nil
	}

	if t != TransitionStop {
		m.queue.SetState(queue.StateFail)
		m.queue.Replay()
	}
	if m.teardown == nil {
		return nil
	}
	if err := m.teardown.Teardown(ctx, t); err != nil {
		m.logger.Warn("teardown failed",
			log.Stringer("transition", t),
			log.Err(err),
		)
		return fmt.Errorf("lifecycle: teardown for %s: %w", t, err)
	}
	return nil
}

// Remove commits the remove transition, releases the caller's charge and
// the idle baseline, and blocks until the outstanding count reaches zero.
// After Remove returns nil the instance may be destroyed.
func (m *Machine) Remove(ctx context.Context) error {
	err := m.Commit(ctx, TransitionRemove)
	if errors.Is(err, ErrInvalidTransition) {
		return err
	}

	m.tracker.Release(1)
	m.tracker.BeginDestroy()
	if werr := m.tracker.WaitZero(ctx); werr != nil {
		err = multierr.Append(err, fmt.Errorf("lifecycle: drain to zero: %w", werr))
	}
	return err
}

func (m *Machine) emit(oldState, newState State, reason string) {
	// Emit event outside of lock
	if m.emitter != nil {
		m.emitter.OnStateChange(oldState, newState, reason)
	}

	m.logger.Info("state transition",
		log.Stringer("from", oldState),
		log.Stringer("to", newState),
		log.String("reason", reason),
	)
}
