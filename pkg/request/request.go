package request

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrCompletedTwice is the panic value raised when a request is finalized
// more than once.
var ErrCompletedTwice = errors.New("pnpcoord: request completed twice")

// Kind identifies the major function of a request.
type Kind int

const (
	KindCreate Kind = iota
	KindClose
	KindRead
	KindWrite
	KindControl
	KindPnP
	KindPower
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "Create"
	case KindClose:
		return "Close"
	case KindRead:
		return "Read"
	case KindWrite:
		return "Write"
	case KindControl:
		return "Control"
	case KindPnP:
		return "PnP"
	case KindPower:
		return "Power"
	default:
		return "Unknown"
	}
}

// HookResult is returned by a completion hook.
type HookResult int

const (
	// Continue lets completion proceed to the next hook up the stack.
	Continue HookResult = iota
	// MoreProcessingRequired stops completion; the hook's owner must call
	// Complete again later to resume with the remaining hooks.
	MoreProcessingRequired
)

// Hook runs when a request completes, innermost first.
type Hook func(r *Request) HookResult

// CancelFunc is installed by whoever currently owns a pending request and
// runs at most once when the request is cancelled.
type CancelFunc func(r *Request)

// Forwarder hands a request to the next layer down. The next layer must
// complete the request exactly once, synchronously or later.
type Forwarder interface {
	Forward(r *Request) Status
}

// ForwarderFunc adapts a function to a Forwarder.
type ForwarderFunc func(r *Request) Status

// Forward calls f(r).
func (f ForwarderFunc) Forward(r *Request) Status {
	return f(r)
}

// Request is one unit of work travelling through an instance.
type Request struct {
	ID      uuid.UUID
	Kind    Kind
	Minor   int
	Owner   string
	Payload any

	cancelled atomic.Bool
	pending   atomic.Bool
	cancelFn  atomic.Pointer[CancelFunc]

	mu         sync.Mutex
	status     Status
	hooks      []Hook
	finalizers []func(*Request)
	finalized  bool
	done       chan struct{}
}

// Option configures a Request at construction.
type Option func(*Request)

// WithOwner records the handle owner that submitted the request.
func WithOwner(owner string) Option {
	return func(r *Request) { r.Owner = owner }
}

// WithMinor sets the minor function code.
func WithMinor(minor int) Option {
	return func(r *Request) { r.Minor = minor }
}

// WithPayload attaches kind-specific parameters.
func WithPayload(payload any) Option {
	return func(r *Request) { r.Payload = payload }
}

// New creates a request of the given kind.
func New(kind Kind, opts ...Option) *Request {
	r := &Request{
		ID:     uuid.New(),
		Kind:   kind,
		status: StatusPending,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MarkPending records that the request will complete asynchronously.
func (r *Request) MarkPending() {
	r.pending.Store(true)
}

// IsPending reports whether MarkPending was called.
func (r *Request) IsPending() bool {
	return r.pending.Load()
}

// SetCancelHandler atomically installs fn (nil clears the slot) and returns
// the handler that was there before. Getting a non-nil handler back means the
// caller claimed the request away from the cancellation path.
func (r *Request) SetCancelHandler(fn CancelFunc) CancelFunc {
	var next *CancelFunc
	if fn != nil {
		next = &fn
	}
	prev := r.cancelFn.Swap(next)
	if prev == nil {
		return nil
	}
	return *prev
}

// TryClaim clears the cancel handler slot and reports whether a handler was
// installed. Exactly one of TryClaim and Cancel wins a given handler.
func (r *Request) TryClaim() bool {
	return r.SetCancelHandler(nil) != nil
}

// Cancel flags the request as cancelled and, if a cancel handler is still
// installed, claims and runs it. Returns true if a handler ran.
func (r *Request) Cancel() bool {
	r.cancelled.Store(true)
	if fn := r.SetCancelHandler(nil); fn != nil {
		fn(r)
		return true
	}
	return false
}

// Cancelled reports whether Cancel was called.
func (r *Request) Cancelled() bool {
	return r.cancelled.Load()
}

// PushHook adds a completion hook. Hooks run in reverse push order.
func (r *Request) PushHook(h Hook) {
	r.mu.Lock()
	r.hooks = append(r.hooks, h)
	r.mu.Unlock()
}

// OnComplete registers fn to run once the request is finalized, after Done
// is closed. Registering on a finalized request runs fn immediately.
func (r *Request) OnComplete(fn func(*Request)) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		fn(r)
		return
	}
	r.finalizers = append(r.finalizers, fn)
	r.mu.Unlock()
}

// SetStatus overwrites the status without completing. Hooks use it to
// change the outcome reported further up.
func (r *Request) SetStatus(status Status) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

// Status returns the current status.
func (r *Request) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Complete sets the status and runs the hook stack. A hook returning
// MoreProcessingRequired halts completion; calling Complete again resumes
// with the hooks above it. When no hooks remain the request is finalized.
// Finalizing twice panics with ErrCompletedTwice.
func (r *Request) Complete(status Status) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		panic(ErrCompletedTwice)
	}
	r.status = status
	r.mu.Unlock()

	for {
		r.mu.Lock()
		if r.finalized {
			r.mu.Unlock()
			panic(ErrCompletedTwice)
		}
		n := len(r.hooks)
		if n == 0 {
			r.finalized = true
			finalizers := r.finalizers
			r.finalizers = nil
			r.mu.Unlock()

			close(r.done)
			for _, fn := range finalizers {
				fn(r)
			}
			return
		}
		h := r.hooks[n-1]
		r.hooks = r.hooks[:n-1]
		r.mu.Unlock()

		if h(r) == MoreProcessingRequired {
			return
		}
	}
}

// Done is closed when the request is finalized.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Completed reports whether the request has been finalized.
func (r *Request) Completed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the request is finalized or ctx is done.
func (r *Request) Wait(ctx context.Context) (Status, error) {
	select {
	case <-r.done:
		return r.Status(), nil
	case <-ctx.Done():
		return StatusPending, ctx.Err()
	}
}
