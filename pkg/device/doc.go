// Package device composes the lifecycle machine, admission queue,
// outstanding-operation tracker, deferred dispatcher, power coordinator
// and wake machine into one Instance sitting on top of a lower layer.
//
// # Usage
//
//	inst, err := device.New(device.DefaultConfig(), lower,
//	    device.WithLogger(logger),
//	    device.WithFlagStore(store),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := inst.Start(ctx); err != nil {
//	    return err
//	}
//
//	status := inst.Submit(request.New(request.KindRead, request.WithOwner("h1")))
//
//	// power requests come from the platform
//	inst.DispatchPower(power.NewSetSystem(power.SystemSleeping3, "suspend"))
//
//	// removal drains everything before returning
//	if err := inst.QueryRemove(ctx); err == nil {
//	    _ = inst.Remove(ctx)
//	}
//
// # Requests
//
// Submit takes I/O requests. DispatchPnP and DispatchPower take
// plug-and-play and power requests; the Start, QueryStop, Remove and
// similar methods build and dispatch a plug-and-play request and wait for
// it. DispatchPnP may block; DispatchPower never does.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package device
