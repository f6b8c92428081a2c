// Package queue implements request admission for one instance: requests are
// dispatched directly, parked in FIFO order, or failed, depending on the
// queue state.
//
// # Usage
//
//	q := queue.New(tracker, handler.Dispatch, queue.WithTerminalCheck(machine.IsDeleted))
//
//	q.Submit(r)               // parked while the queue is on hold
//
//	q.SetState(queue.StateAllow)
//	q.Replay()                // parked requests dispatched in order
//
// A parked request carries a cancel handler. Cancelling it unlinks and
// completes it with StatusCancelled; replay and cleanup reclaim requests
// through request.TryClaim, so each request completes exactly once.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package queue
