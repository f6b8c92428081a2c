package queue

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/bft-labs/pnpcoord/pkg/request"
	"github.com/bft-labs/pnpcoord/pkg/tracker"
)

// recordingHandler completes every request it sees and remembers the order.
type recordingHandler struct {
	mu   sync.Mutex
	seen []uuid.UUID
}

func (h *recordingHandler) dispatch(r *request.Request) request.Status {
	h.mu.Lock()
	h.seen = append(h.seen, r.ID)
	h.mu.Unlock()
	r.Complete(request.StatusSuccess)
	return request.StatusSuccess
}

func (h *recordingHandler) ids() []uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uuid.UUID(nil), h.seen...)
}

func newTestQueue(opts ...Option) (*Queue, *tracker.Tracker, *recordingHandler) {
	tr := tracker.New(nil)
	h := &recordingHandler{}
	return New(tr, h.dispatch, opts...), tr, h
}

func TestHoldThenAllowReplaysInOrder(t *testing.T) {
	q, tr, h := newTestQueue()

	var want []uuid.UUID
	for i := 0; i < 3; i++ {
		r := request.New(request.KindRead)
		want = append(want, r.ID)
		if got := q.Submit(r); got != request.StatusPending {
			t.Fatalf("Submit() = %v, want %v", got, request.StatusPending)
		}
	}
	if got := q.Depth(); got != 3 {
		t.Fatalf("Depth() = %d, want 3", got)
	}
	if diff := cmp.Diff(want, q.Pending()); diff != "" {
		t.Fatalf("Pending() mismatch (-want +got):\n%s", diff)
	}
	if got := tr.Count(); got != 1 {
		t.Errorf("tracker count with parked requests = %d, want 1", got)
	}

	q.SetState(StateAllow)
	q.Replay()

	if got := q.Depth(); got != 0 {
		t.Errorf("Depth() after replay = %d, want 0", got)
	}
	if diff := cmp.Diff(want, h.ids()); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
	if got := tr.Count(); got != 1 {
		t.Errorf("tracker count after replay = %d, want 1", got)
	}
}

func TestAllowDispatchesDirectly(t *testing.T) {
	q, _, h := newTestQueue()
	q.SetState(StateAllow)

	r := request.New(request.KindWrite)
	if got := q.Submit(r); got != request.StatusSuccess {
		t.Fatalf("Submit() = %v, want %v", got, request.StatusSuccess)
	}
	if len(h.ids()) != 1 || q.Depth() != 0 {
		t.Errorf("dispatched %d, depth %d; want 1, 0", len(h.ids()), q.Depth())
	}
}

func TestCancelQueuedRequest(t *testing.T) {
	q, _, h := newTestQueue()

	a := request.New(request.KindRead)
	b := request.New(request.KindRead)
	q.Submit(a)
	q.Submit(b)

	if !a.Cancel() {
		t.Fatal("Cancel() = false, want queue handler to run")
	}
	if got := a.Status(); got != request.StatusCancelled {
		t.Errorf("cancelled request status = %v, want %v", got, request.StatusCancelled)
	}
	if got := q.Depth(); got != 1 {
		t.Errorf("Depth() = %d, want 1", got)
	}

	q.SetState(StateAllow)
	q.Replay()

	if diff := cmp.Diff([]uuid.UUID{b.ID}, h.ids()); diff != "" {
		t.Errorf("dispatched mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitAlreadyCancelled(t *testing.T) {
	q, tr, h := newTestQueue()

	r := request.New(request.KindRead)
	r.Cancel()

	if got := q.Submit(r); got != request.StatusCancelled {
		t.Fatalf("Submit() = %v, want %v", got, request.StatusCancelled)
	}
	if !r.Completed() {
		t.Error("request not completed")
	}
	if q.Depth() != 0 || len(h.ids()) != 0 {
		t.Errorf("depth %d, dispatched %d; want 0, 0", q.Depth(), len(h.ids()))
	}
	if got := tr.Count(); got != 1 {
		t.Errorf("tracker count = %d, want 1", got)
	}
}

func TestFailCompletesWithNoSuchDevice(t *testing.T) {
	q, _, h := newTestQueue()

	r := request.New(request.KindControl)
	q.Submit(r)
	q.SetState(StateFail)
	q.Replay()

	if got := r.Status(); got != request.StatusNoSuchDevice {
		t.Errorf("Status() = %v, want %v", got, request.StatusNoSuchDevice)
	}
	if len(h.ids()) != 0 {
		t.Errorf("handler saw %d requests, want 0", len(h.ids()))
	}
}

func TestReplayStopsWhenHeldAgain(t *testing.T) {
	tr := tracker.New(nil)
	var q *Queue
	var seen []uuid.UUID
	q = New(tr, func(r *request.Request) request.Status {
		seen = append(seen, r.ID)
		// The first dispatched request puts the queue back on hold.
		q.SetState(StateHold)
		r.Complete(request.StatusSuccess)
		return request.StatusSuccess
	})

	a := request.New(request.KindRead)
	b := request.New(request.KindRead)
	q.Submit(a)
	q.Submit(b)

	q.SetState(StateAllow)
	q.Replay()

	if diff := cmp.Diff([]uuid.UUID{a.ID}, seen); diff != "" {
		t.Errorf("dispatched mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uuid.UUID{b.ID}, q.Pending()); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
}

func TestTerminalCheckRejects(t *testing.T) {
	var deleted atomic.Bool
	q, tr, h := newTestQueue(WithTerminalCheck(deleted.Load))
	deleted.Store(true)

	r := request.New(request.KindRead)
	if got := q.Submit(r); got != request.StatusNoSuchDevice {
		t.Fatalf("Submit() = %v, want %v", got, request.StatusNoSuchDevice)
	}
	if q.Depth() != 0 || len(h.ids()) != 0 {
		t.Error("terminal submit touched the queue or handler")
	}
	if got := tr.Count(); got != 1 {
		t.Errorf("tracker count = %d, want 1", got)
	}
}

func TestCleanupByOwner(t *testing.T) {
	q, _, h := newTestQueue()

	mine := request.New(request.KindRead, request.WithOwner("h1"))
	theirs := request.New(request.KindRead, request.WithOwner("h2"))
	alsoMine := request.New(request.KindWrite, request.WithOwner("h1"))
	q.Submit(mine)
	q.Submit(theirs)
	q.Submit(alsoMine)

	if got := q.Cleanup("h1"); got != 2 {
		t.Fatalf("Cleanup() = %d, want 2", got)
	}
	for _, r := range []*request.Request{mine, alsoMine} {
		if got := r.Status(); got != request.StatusCancelled {
			t.Errorf("Status() = %v, want %v", got, request.StatusCancelled)
		}
	}
	// The cancel handler was cleared by cleanup.
	if mine.Cancel() {
		t.Error("Cancel() after cleanup ran a handler")
	}

	q.SetState(StateAllow)
	q.Replay()
	if diff := cmp.Diff([]uuid.UUID{theirs.ID}, h.ids()); diff != "" {
		t.Errorf("dispatched mismatch (-want +got):\n%s", diff)
	}
}

func TestDepthObserver(t *testing.T) {
	var depths []int
	q, _, _ := newTestQueue(WithDepthObserver(func(d int) { depths = append(depths, d) }))

	q.Submit(request.New(request.KindRead))
	q.Submit(request.New(request.KindRead))
	q.SetState(StateAllow)
	q.Replay()

	if diff := cmp.Diff([]int{1, 2, 1, 0}, depths); diff != "" {
		t.Errorf("depths mismatch (-want +got):\n%s", diff)
	}
}

// Every request completes exactly once whatever the interleaving of
// submit, cancel and state changes.
func TestExactlyOnceUnderRaces(t *testing.T) {
	q, tr, _ := newTestQueue()

	const n = 300
	reqs := make([]*request.Request, n)
	completions := make([]int32, n)
	for i := range reqs {
		i := i
		reqs[i] = request.New(request.KindRead)
		reqs[i].OnComplete(func(*request.Request) { atomic.AddInt32(&completions[i], 1) })
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for _, r := range reqs {
			q.Submit(r)
		}
	}()
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(1))
		for _, i := range rng.Perm(n)[:n/2] {
			reqs[i].Cancel()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if i%2 == 0 {
				q.SetState(StateAllow)
				q.Replay()
			} else {
				q.SetState(StateHold)
			}
		}
	}()
	wg.Wait()

	q.SetState(StateAllow)
	q.Replay()

	for i, c := range completions {
		if c != 1 {
			t.Errorf("request %d completed %d times, want 1", i, c)
		}
	}
	if got := q.Depth(); got != 0 {
		t.Errorf("Depth() = %d, want 0", got)
	}
	if got := tr.Count(); got != 1 {
		t.Errorf("tracker count = %d, want 1", got)
	}
}
