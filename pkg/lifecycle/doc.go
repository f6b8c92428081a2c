// Package lifecycle provides the plug-and-play lifecycle state machine of
// an instance.
//
// # Usage
//
//	m := lifecycle.NewMachine(q, t,
//	    lifecycle.WithLogger(logger),
//	    lifecycle.WithTeardown(teardown),
//	)
//
//	if err := m.Start("start device"); err != nil {
//	    return err
//	}
//
//	// query blocks until in-flight work drains
//	if err := m.Query(ctx, lifecycle.TransitionStop); err != nil {
//	    return err
//	}
//	// then either roll back...
//	m.Cancel(lifecycle.TransitionStop)
//	// ...or make it permanent
//	_ = m.Commit(ctx, lifecycle.TransitionStop)
//
// # State Machine
//
// Valid state transitions:
//   - NotStarted -> Started, RemovePending, SurpriseRemovePending
//   - Started -> StopPending, RemovePending, SurpriseRemovePending
//   - StopPending -> Stopped, SurpriseRemovePending, or back to the saved state on cancel
//   - Stopped -> Started, RemovePending, SurpriseRemovePending
//   - RemovePending -> SurpriseRemovePending, or back to the saved state on cancel
//   - any non-terminal state -> Deleted
//
// Deleted is terminal. Remove is the only operation that drains the
// outstanding count to zero.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package lifecycle
