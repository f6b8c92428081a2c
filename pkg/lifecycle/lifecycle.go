package lifecycle

import (
	"context"
	"errors"
)

// Common lifecycle errors.
var (
	ErrInvalidTransition = errors.New("pnpcoord: invalid lifecycle transition")
	ErrNotPending        = errors.New("pnpcoord: transition not pending")
)

// State represents the plug-and-play lifecycle state of an instance.
type State int

const (
	StateNotStarted State = iota
	StateStarted
	StateStopPending
	StateStopped
	StateRemovePending
	StateSurpriseRemovePending
	StateDeleted
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateStarted:
		return "Started"
	case StateStopPending:
		return "StopPending"
	case StateStopped:
		return "Stopped"
	case StateRemovePending:
		return "RemovePending"
	case StateSurpriseRemovePending:
		return "SurpriseRemovePending"
	case StateDeleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Transition names a stop or remove transition that can be queried,
// cancelled or committed.
type Transition int

const (
	TransitionStop Transition = iota
	TransitionRemove
	TransitionSurpriseRemoval
)

// String returns a human-readable representation of the transition.
func (t Transition) String() string {
	switch t {
	case TransitionStop:
		return "stop"
	case TransitionRemove:
		return "remove"
	case TransitionSurpriseRemoval:
		return "surprise-removal"
	default:
		return "unknown"
	}
}

// pendingState is the provisional state a query enters.
func (t Transition) pendingState() (State, bool) {
	switch t {
	case TransitionStop:
		return StateStopPending, true
	case TransitionRemove:
		return StateRemovePending, true
	default:
		return StateNotStarted, false
	}
}

// committedState is the state a commit makes permanent.
func (t Transition) committedState() State {
	switch t {
	case TransitionStop:
		return StateStopped
	case TransitionSurpriseRemoval:
		return StateSurpriseRemovePending
	default:
		return StateDeleted
	}
}

// validTransitions lists the forward edges of the lifecycle graph.
// Deleted is reachable from every other state and restores after a
// cancelled query bypass this table.
var validTransitions = map[State][]State{
	StateNotStarted:            {StateStarted, StateRemovePending, StateSurpriseRemovePending},
	StateStarted:               {StateStopPending, StateRemovePending, StateSurpriseRemovePending},
	StateStopPending:           {StateStopped, StateSurpriseRemovePending},
	StateStopped:               {StateStarted, StateRemovePending, StateSurpriseRemovePending},
	StateRemovePending:         {StateSurpriseRemovePending},
	StateSurpriseRemovePending: nil,
}

func canTransition(from, to State) bool {
	if from == StateDeleted {
		return false
	}
	if to == StateDeleted {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// EventEmitter is called when the lifecycle state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Teardown performs the side effects of a committed transition: releasing
// hardware bindings, detaching interfaces and deregistering
// instrumentation. It is never called for a remove that follows a
// surprise removal.
type Teardown interface {
	Teardown(ctx context.Context, t Transition) error
}

// TeardownFunc adapts a function to a Teardown.
type TeardownFunc func(ctx context.Context, t Transition) error

// Teardown calls f(ctx, t).
func (f TeardownFunc) Teardown(ctx context.Context, t Transition) error {
	return f(ctx, t)
}
