// Package request defines the unit of work that flows through an instance:
// its completion status, the completion hook stack and the cancel handler
// slot used to resolve cancellation races.
//
// # Usage
//
//	r := request.New(request.KindRead, request.WithOwner("handle-1"))
//	r.PushHook(func(r *request.Request) request.HookResult {
//	    // runs when the next layer completes r
//	    return request.Continue
//	})
//	lower.Forward(r)
//	status, err := r.Wait(ctx)
//
// # Cancellation
//
// Whoever parks a request installs a cancel handler with SetCancelHandler.
// Cancel clears the slot and runs the handler it found; the parking side
// reclaims the request with TryClaim. Both use one atomic swap, so exactly
// one side ends up owning completion.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package request
