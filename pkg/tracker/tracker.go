package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bft-labs/pnpcoord/pkg/log"
)

// Tracker errors. Both are raised as panics: they mean the accounting
// contract was broken by the caller.
var (
	ErrNegativeCount  = errors.New("pnpcoord: outstanding count went negative")
	ErrUnexpectedZero = errors.New("pnpcoord: outstanding count reached zero outside removal")
)

// Phase says whether the count may legitimately reach zero.
type Phase int32

const (
	// PhaseServing is the normal phase. The count never drops below the
	// idle baseline of 1.
	PhaseServing Phase = iota
	// PhaseDestroying is entered by BeginDestroy during final removal. The
	// baseline has been released and the count drains to 0.
	PhaseDestroying
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseServing:
		return "Serving"
	case PhaseDestroying:
		return "Destroying"
	default:
		return "Unknown"
	}
}

// Tracker counts in-flight operations on one instance. The count starts at
// the idle baseline of 1. The idle event is set iff the count is 1 and the
// zero event is set iff the count is 0.
type Tracker struct {
	count atomic.Int64
	phase atomic.Int32

	// mu orders event updates so the events always settle on the latest count.
	mu   sync.Mutex
	idle *Event
	zero *Event

	logger log.Logger
}

// New creates a tracker at the idle baseline.
func New(logger log.Logger) *Tracker {
	t := &Tracker{
		idle:   NewEvent(true),
		zero:   NewEvent(false),
		logger: log.OrNoop(logger),
	}
	t.count.Store(1)
	return t
}

// Increment adds one in-flight operation and returns the new count.
func (t *Tracker) Increment() int64 {
	n := t.count.Add(1)
	if n <= 2 {
		t.reconcile()
	}
	return n
}

// Decrement removes one in-flight operation and returns the new count.
// It panics if the count goes negative, or reaches zero before
// BeginDestroy.
func (t *Tracker) Decrement() int64 {
	n := t.count.Add(-1)
	switch {
	case n < 0:
		panic(ErrNegativeCount)
	case n == 0 && t.Phase() != PhaseDestroying:
		panic(ErrUnexpectedZero)
	}
	if n <= 2 {
		t.reconcile()
	}
	return n
}

// Release drops n charges held by the caller, typically before waiting for
// idle so the caller's own operations do not block the drain.
func (t *Tracker) Release(n int) {
	for i := 0; i < n; i++ {
		t.Decrement()
	}
}

// Acquire re-takes n charges after a Release.
func (t *Tracker) Acquire(n int) {
	for i := 0; i < n; i++ {
		t.Increment()
	}
}

// BeginDestroy switches to PhaseDestroying and releases the idle baseline.
// It must be called exactly once, from the remove path.
func (t *Tracker) BeginDestroy() {
	if !t.phase.CompareAndSwap(int32(PhaseServing), int32(PhaseDestroying)) {
		panic(fmt.Errorf("%w: destroy already begun", ErrUnexpectedZero))
	}
	n := t.Decrement()
	t.logger.Debug("tracker draining to zero", log.Int64("outstanding", n))
}

// Count returns the current count.
func (t *Tracker) Count() int64 {
	return t.count.Load()
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	return Phase(t.phase.Load())
}

// Idle reports whether the idle event is set.
func (t *Tracker) Idle() bool {
	return t.idle.IsSet()
}

// Zero reports whether the zero event is set.
func (t *Tracker) Zero() bool {
	return t.zero.IsSet()
}

// WaitIdle blocks until the count is back at the idle baseline.
func (t *Tracker) WaitIdle(ctx context.Context) error {
	return t.idle.Wait(ctx)
}

// WaitZero blocks until the count reaches zero. Only meaningful after
// BeginDestroy.
func (t *Tracker) WaitZero(ctx context.Context) error {
	return t.zero.Wait(ctx)
}

func (t *Tracker) reconcile() {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.count.Load()
	t.idle.setTo(n == 1)
	t.zero.setTo(n == 0)
}
