// Package power coordinates system and device power requests for one
// instance.
//
// A system request (S-state) is forwarded down first. When it comes back
// successfully the coordinator picks a device state from the capability
// table, issues a device request (D-state) to the top of the instance and
// parks the system request until the device request finishes. The device
// request is handled on the deferred dispatcher because it may need to
// hold the admission queue and wait for in-flight work to drain.
//
// # Ordering
//
// Powering up, the device request goes down before the instance restores
// its own context. Powering down, the instance saves its context first and
// the request goes down afterwards. A resume to S0 completes the system
// request as soon as the D0 request starts, so the platform does not wait
// on device initialization.
//
// # Usage
//
//	c := power.NewCoordinator(q, t, d, lower,
//	    power.WithActionHook(hook),
//	    power.WithWakeArmed(wake.Armed),
//	)
//	t.Increment()
//	c.Dispatch(power.NewSetSystem(power.SystemSleeping3, "suspend"))
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package power
