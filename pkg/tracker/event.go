package tracker

import (
	"context"
	"sync"
)

// Event is a manual-reset binary event. Waiters block until it is set;
// it stays set until cleared.
type Event struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewEvent creates an event in the given initial state.
func NewEvent(set bool) *Event {
	e := &Event{ch: make(chan struct{})}
	if set {
		e.set = true
		close(e.ch)
	}
	return e
}

// Set signals the event, releasing all current and future waiters.
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Clear resets the event so later waiters block.
func (e *Event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// IsSet reports the current state.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setTo sets or clears the event.
func (e *Event) setTo(set bool) {
	if set {
		e.Set()
	} else {
		e.Clear()
	}
}
