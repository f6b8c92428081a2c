// Package wake arms and disarms the single wait-wake request an instance
// keeps outstanding while it is able to wake the platform.
//
// The flow moves Disarmed, Waiting, Armed, Completing and back to
// Disarmed. Disarm sets a cancel flag on Waiting or Armed in the same
// atomic operation that reads the state, so it never overwrites Disarmed
// or Completing. Whichever of Disarm and the completion hook sees the
// other's mark finishes the request; the request is completed once.
//
// # Usage
//
//	m := wake.NewMachine(lower, dispatcher,
//	    wake.WithEnabled(f.WakeEnabled),
//	    wake.WithFlagStore(store),
//	)
//	if err := m.Arm(ctx, true); err != nil && !errors.Is(err, wake.ErrWakeDisabled) {
//	    return err
//	}
//	defer m.Disarm(ctx, true)
//
// A successful wake re-arms through deferred work. A lower layer reporting
// that wake is unsupported clears the persisted wake-enabled flag.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package wake
