// Package tracker counts outstanding operations on an instance and exposes
// the two drain signals built on that count.
//
// The count sits at an idle baseline of 1 while nothing is in flight. Every
// dispatched operation takes a charge with Increment and returns it with
// Decrement. The count only reaches 0 after BeginDestroy releases the
// baseline during final removal; reaching 0 any other way panics.
//
// # Usage
//
//	t := tracker.New(logger)
//	t.Increment()
//	defer t.Decrement()
//
//	// transition path: release our own charge, wait for the rest
//	t.Release(1)
//	if err := t.WaitIdle(ctx); err != nil {
//	    return err
//	}
//	t.Acquire(1)
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package tracker
