// Package deferred runs callbacks in a context that is allowed to block.
//
// Completion hooks and dispatch paths must not block. When they need to
// wait for a drain they hand the rest of the work to a Dispatcher, which
// runs it on its own worker goroutine in submission order. Callers that
// are already allowed to block mark their context with WithBlocking and
// the callback runs inline.
//
// # Usage
//
//	d := deferred.New(deferred.WithCapacity(32))
//	defer d.Close()
//
//	if err := d.Run(ctx, "power-down", func(ctx context.Context) {
//	    _ = tracker.WaitIdle(ctx)
//	}); err != nil {
//	    // ErrInsufficientResources: finish the request here instead
//	}
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package deferred
