package queue

import (
	"container/list"
	"sync"

	"github.com/google/uuid"

	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/request"
	"github.com/bft-labs/pnpcoord/pkg/tracker"
)

// State is the admission policy applied to newly submitted requests.
type State int

const (
	// StateHold parks every new request in the pending queue.
	StateHold State = iota
	// StateAllow dispatches new requests directly.
	StateAllow
	// StateFail completes parked requests with "no such device" on replay.
	StateFail
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateHold:
		return "Hold"
	case StateAllow:
		return "Allow"
	case StateFail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// Dispatcher handles an admitted request. It either completes the request
// and returns its status, or returns StatusPending after taking ownership.
type Dispatcher func(r *request.Request) request.Status

// Queue admits, parks and replays requests for one instance.
type Queue struct {
	mu      sync.Mutex
	state   State
	pending *list.List
	index   map[*request.Request]*list.Element

	tracker  *tracker.Tracker
	dispatch Dispatcher
	terminal func() bool
	observer func(depth int)
	logger   log.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(q *Queue) { q.logger = log.OrNoop(logger) }
}

// WithTerminalCheck makes Submit reject requests with "no such device"
// while check returns true.
func WithTerminalCheck(check func() bool) Option {
	return func(q *Queue) { q.terminal = check }
}

// WithDepthObserver reports the queue depth after every change.
// The observer is called outside the queue lock.
func WithDepthObserver(fn func(depth int)) Option {
	return func(q *Queue) { q.observer = fn }
}

// New creates a queue in StateHold. Requests submitted before the first
// SetState(StateAllow) are parked.
func New(t *tracker.Tracker, dispatch Dispatcher, opts ...Option) *Queue {
	q := &Queue{
		state:    StateHold,
		pending:  list.New(),
		index:    make(map[*request.Request]*list.Element),
		tracker:  t,
		dispatch: dispatch,
		logger:   log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// State returns the current admission state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// SetState changes the admission state and returns the previous one.
// Callers moving to StateAllow or StateFail follow with Replay.
func (q *Queue) SetState(s State) State {
	q.mu.Lock()
	prev := q.state
	q.state = s
	q.mu.Unlock()

	if prev != s {
		q.logger.Debug("queue state changed",
			log.Stringer("from", prev),
			log.Stringer("to", s),
		)
	}
	return prev
}

// Depth returns the number of parked requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Pending returns the IDs of parked requests, head first.
func (q *Queue) Pending() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]uuid.UUID, 0, q.pending.Len())
	for e := q.pending.Front(); e != nil; e = e.Next() {
		ids = append(ids, e.Value.(*request.Request).ID)
	}
	return ids
}

// Submit takes a charge on the tracker, then rejects, parks or dispatches r.
// The charge is returned when r is parked or when dispatch returns.
func (q *Queue) Submit(r *request.Request) request.Status {
	q.tracker.Increment()

	if q.terminal != nil && q.terminal() {
		r.Complete(request.StatusNoSuchDevice)
		q.tracker.Decrement()
		return request.StatusNoSuchDevice
	}

	q.mu.Lock()
	if q.state == StateHold {
		return q.enqueueLocked(r)
	}
	q.mu.Unlock()

	status := q.dispatch(r)
	q.tracker.Decrement()
	return status
}

// enqueueLocked parks r at the tail. Called with q.mu held; releases it.
func (q *Queue) enqueueLocked(r *request.Request) request.Status {
	r.MarkPending()
	r.SetCancelHandler(q.cancelQueued)

	// The submitter may have cancelled before the handler went in. Whoever
	// clears the handler slot first owns completion.
	if r.Cancelled() && r.TryClaim() {
		q.mu.Unlock()
		r.Complete(request.StatusCancelled)
		q.tracker.Decrement()
		return request.StatusCancelled
	}

	q.index[r] = q.pending.PushBack(r)
	depth := q.pending.Len()
	q.mu.Unlock()

	q.logger.Debug("request queued",
		log.String("id", r.ID.String()),
		log.Stringer("kind", r.Kind),
		log.Int("depth", depth),
	)
	q.notify(depth)

	// Parked, not in flight.
	q.tracker.Decrement()
	return request.StatusPending
}

// cancelQueued is the cancel handler installed on parked requests.
func (q *Queue) cancelQueued(r *request.Request) {
	q.mu.Lock()
	q.unlinkLocked(r)
	depth := q.pending.Len()
	q.mu.Unlock()

	q.notify(depth)
	r.Complete(request.StatusCancelled)
}

// unlinkLocked removes r if it is still linked. Requires q.mu.
func (q *Queue) unlinkLocked(r *request.Request) bool {
	e, ok := q.index[r]
	if !ok {
		return false
	}
	q.pending.Remove(e)
	delete(q.index, r)
	return true
}

// Replay drains the pending queue in FIFO order. Cancelled requests are
// completed as cancelled, in StateFail every other request completes with
// "no such device", otherwise each is resubmitted. Replay stops as soon as
// the queue is back in StateHold, which is what a resubmission returning
// StatusPending signals.
func (q *Queue) Replay() {
	var cancelled []*request.Request

	for {
		q.mu.Lock()
		if q.state == StateHold {
			q.mu.Unlock()
			break
		}
		front := q.pending.Front()
		if front == nil {
			q.mu.Unlock()
			break
		}
		r := front.Value.(*request.Request)
		q.unlinkLocked(r)
		claimed := r.TryClaim()
		failing := q.state == StateFail
		depth := q.pending.Len()
		q.mu.Unlock()

		q.notify(depth)

		if !claimed {
			// The cancel handler is already running and completes r.
			continue
		}
		if r.Cancelled() {
			cancelled = append(cancelled, r)
			continue
		}
		if failing {
			r.Complete(request.StatusNoSuchDevice)
			continue
		}
		if q.Submit(r) == request.StatusPending && q.State() == StateHold {
			break
		}
	}

	for _, r := range cancelled {
		r.Complete(request.StatusCancelled)
	}
}

// Cleanup cancels every parked request submitted by owner and returns how
// many it completed itself.
func (q *Queue) Cleanup(owner string) int {
	var mine []*request.Request

	q.mu.Lock()
	for e := q.pending.Front(); e != nil; {
		next := e.Next()
		r := e.Value.(*request.Request)
		if r.Owner == owner {
			q.unlinkLocked(r)
			// A failed claim means the cancel handler is running; it
			// completes r and finds it already unlinked.
			if r.TryClaim() {
				mine = append(mine, r)
			}
		}
		e = next
	}
	depth := q.pending.Len()
	q.mu.Unlock()

	q.notify(depth)
	for _, r := range mine {
		r.Complete(request.StatusCancelled)
	}
	if len(mine) > 0 {
		q.logger.Debug("cleanup cancelled queued requests",
			log.String("owner", owner),
			log.Int("count", len(mine)),
		)
	}
	return len(mine)
}

func (q *Queue) notify(depth int) {
	if q.observer != nil {
		q.observer(depth)
	}
}
