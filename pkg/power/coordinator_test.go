package power

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bft-labs/pnpcoord/pkg/deferred"
	"github.com/bft-labs/pnpcoord/pkg/queue"
	"github.com/bft-labs/pnpcoord/pkg/request"
	"github.com/bft-labs/pnpcoord/pkg/tracker"
)

// recorder collects an ordered trace of what happened.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events...)
}

// recordingHook implements ActionHook for testing.
type recordingHook struct {
	rec     *recorder
	suspend request.Status
}

func (h *recordingHook) OnPowerTransition(ctx context.Context, old, new DeviceState, reason string) request.Status {
	h.rec.add("action %s->%s", old, new)
	return request.StatusSuccess
}

func (h *recordingHook) CanSuspend(ctx context.Context) request.Status {
	h.rec.add("can-suspend")
	return h.suspend
}

type fixture struct {
	rec      *recorder
	hook     *recordingHook
	tracker  *tracker.Tracker
	queue    *queue.Queue
	deferred *deferred.Dispatcher
	coord    *Coordinator

	mu          sync.Mutex
	lowerStatus request.Status
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{rec: &recorder{}}
	f.hook = &recordingHook{rec: f.rec}
	f.tracker = tracker.New(nil)
	f.queue = queue.New(f.tracker, func(r *request.Request) request.Status {
		r.Complete(request.StatusSuccess)
		return request.StatusSuccess
	})
	f.deferred = deferred.New()
	t.Cleanup(func() { f.deferred.Close() })

	lower := request.ForwarderFunc(func(r *request.Request) request.Status {
		f.rec.add("forward %s", describe(r))
		f.mu.Lock()
		status := f.lowerStatus
		f.mu.Unlock()
		r.Complete(status)
		return status
	})
	opts = append([]Option{WithActionHook(f.hook)}, opts...)
	f.coord = NewCoordinator(f.queue, f.tracker, f.deferred, lower, opts...)
	return f
}

func (f *fixture) failBelow(status request.Status) {
	f.mu.Lock()
	f.lowerStatus = status
	f.mu.Unlock()
}

func (f *fixture) dispatch(r *request.Request) request.Status {
	f.tracker.Increment()
	return f.coord.Dispatch(r)
}

func describe(r *request.Request) string {
	p, ok := ParamsOf(r)
	if !ok {
		return "other"
	}
	if p.Type == TypeSystem {
		return fmt.Sprintf("%s %s", MinorOf(r), p.System)
	}
	return fmt.Sprintf("%s %s", MinorOf(r), p.Device)
}

func waitDone(t *testing.T, r *request.Request) request.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("request %s did not complete: %v", describe(r), err)
	}
	return status
}

func waitIdle(t *testing.T, tr *tracker.Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tr.WaitIdle(ctx); err != nil {
		t.Fatalf("tracker did not return to idle: count = %d", tr.Count())
	}
}

func TestDevicePowerDownActsBeforeForwarding(t *testing.T) {
	f := newFixture(t)
	f.coord.SetDeviceState(DeviceD0)
	f.queue.SetState(queue.StateAllow)

	r := NewSetDevice(DeviceD3, "test")
	if got := f.dispatch(r); got != request.StatusPending {
		t.Fatalf("Dispatch() = %v, want Pending", got)
	}
	if got := waitDone(t, r); got != request.StatusSuccess {
		t.Errorf("status = %v, want Success", got)
	}
	waitIdle(t, f.tracker)

	want := []string{"action D0->D3", "forward set D3"}
	if diff := cmp.Diff(want, f.rec.list()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if got := f.queue.State(); got != queue.StateHold {
		t.Errorf("queue state = %v, want Hold", got)
	}
	if got := f.coord.DeviceState(); got != DeviceD3 {
		t.Errorf("device state = %v, want D3", got)
	}
}

func TestDevicePowerUpForwardsBeforeActing(t *testing.T) {
	f := newFixture(t)

	r := NewSetDevice(DeviceD0, "test")
	f.dispatch(r)
	if got := waitDone(t, r); got != request.StatusSuccess {
		t.Errorf("status = %v, want Success", got)
	}
	waitIdle(t, f.tracker)

	want := []string{"forward set D0", "action D3->D0"}
	if diff := cmp.Diff(want, f.rec.list()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if got := f.queue.State(); got != queue.StateAllow {
		t.Errorf("queue state = %v, want Allow", got)
	}
}

func TestResumeGateKeepsQueueHeld(t *testing.T) {
	f := newFixture(t, WithResumeGate(func() bool { return false }))

	r := NewSetDevice(DeviceD0, "test")
	f.dispatch(r)
	waitDone(t, r)
	waitIdle(t, f.tracker)

	if got := f.queue.State(); got != queue.StateHold {
		t.Errorf("queue state = %v, want Hold", got)
	}
}

func TestSystemSuspendCompletesDeviceFirst(t *testing.T) {
	f := newFixture(t)
	f.coord.SetDeviceState(DeviceD0)
	f.queue.SetState(queue.StateAllow)

	s := NewSetSystem(SystemSleeping3, "suspend")
	s.OnComplete(func(*request.Request) { f.rec.add("complete system") })
	if got := f.dispatch(s); got != request.StatusPending {
		t.Fatalf("Dispatch() = %v, want Pending", got)
	}
	if got := waitDone(t, s); got != request.StatusSuccess {
		t.Errorf("status = %v, want Success", got)
	}
	waitIdle(t, f.tracker)

	want := []string{
		"forward set S3",
		"action D0->D3",
		"forward set D3",
		"complete system",
	}
	if diff := cmp.Diff(want, f.rec.list()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if got := f.coord.SystemState(); got != SystemSleeping3 {
		t.Errorf("system state = %v, want S3", got)
	}
	if f.coord.HasPendingSystem() {
		t.Error("system request still recorded as pending")
	}
}

func TestResumeCompletesSystemAheadOfDevice(t *testing.T) {
	f := newFixture(t)

	s := NewSetSystem(SystemWorking, "resume")
	s.OnComplete(func(*request.Request) { f.rec.add("complete system") })
	f.dispatch(s)
	waitDone(t, s)
	waitIdle(t, f.tracker)

	want := []string{
		"forward set S0",
		"complete system",
		"forward set D0",
		"action D3->D0",
	}
	if diff := cmp.Diff(want, f.rec.list()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
	if got := f.coord.DeviceState(); got != DeviceD0 {
		t.Errorf("device state = %v, want D0", got)
	}
}

func TestWakeArmedKeepsDevicePowered(t *testing.T) {
	caps := DefaultCapabilities()
	caps.DeviceState[SystemSleeping3] = DeviceD2
	caps.SystemWake = SystemSleeping3
	caps.DeviceWake = DeviceD2

	f := newFixture(t,
		WithCapabilities(AdjustCapabilities(caps)),
		WithWakeArmed(func() bool { return true }),
	)
	f.coord.SetDeviceState(DeviceD0)

	s := NewSetSystem(SystemSleeping3, "suspend")
	f.dispatch(s)
	waitDone(t, s)
	waitIdle(t, f.tracker)

	if got := f.coord.DeviceState(); got != DeviceD2 {
		t.Errorf("device state = %v, want D2", got)
	}
}

func TestSystemFailureBelowSkipsDeviceRequest(t *testing.T) {
	f := newFixture(t)
	f.failBelow(request.StatusUnsuccessful)

	s := NewSetSystem(SystemSleeping3, "suspend")
	f.dispatch(s)
	if got := waitDone(t, s); got != request.StatusUnsuccessful {
		t.Errorf("status = %v, want Unsuccessful", got)
	}
	waitIdle(t, f.tracker)

	want := []string{"forward set S3"}
	if diff := cmp.Diff(want, f.rec.list()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestSecondPendingSystemRequestPanics(t *testing.T) {
	f := newFixture(t)
	f.coord.pending = &correlation{
		system: NewSetSystem(SystemSleeping3, "first"),
		device: NewSetDevice(DeviceD3, "first"),
	}

	defer func() {
		rec := recover()
		err, ok := rec.(error)
		if !ok || !errors.Is(err, ErrProtocolViolation) {
			t.Errorf("recovered %v, want ErrProtocolViolation", rec)
		}
	}()
	f.dispatch(NewSetSystem(SystemHibernate, "second"))
	t.Fatal("Dispatch() returned without panicking")
}

func TestDevicePowerFailsWhenDeferredUnavailable(t *testing.T) {
	f := newFixture(t)
	f.coord.SetDeviceState(DeviceD0)
	f.deferred.Close()

	r := NewSetDevice(DeviceD3, "test")
	if got := f.dispatch(r); got != request.StatusInsufficientResources {
		t.Errorf("Dispatch() = %v, want InsufficientResources", got)
	}
	if !r.Completed() {
		t.Error("request not completed")
	}
	if got := f.tracker.Count(); got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
	if got := f.coord.DeviceState(); got != DeviceD0 {
		t.Errorf("device state = %v, want D0", got)
	}
}

func TestDeviceQuery(t *testing.T) {
	tests := []struct {
		name       string
		target     DeviceState
		suspend    request.Status
		wantStatus request.Status
		wantTrace  []string
		wantQueue  queue.State
	}{
		{
			name:       "D0 is forwarded directly",
			target:     DeviceD0,
			wantStatus: request.StatusSuccess,
			wantTrace:  []string{"forward query D0"},
			wantQueue:  queue.StateAllow,
		},
		{
			name:       "accepted query leaves queue held",
			target:     DeviceD3,
			suspend:    request.StatusSuccess,
			wantStatus: request.StatusSuccess,
			wantTrace:  []string{"can-suspend", "forward query D3"},
			wantQueue:  queue.StateHold,
		},
		{
			name:       "refused query resumes the queue",
			target:     DeviceD3,
			suspend:    request.StatusUnsuccessful,
			wantStatus: request.StatusUnsuccessful,
			wantTrace:  []string{"can-suspend"},
			wantQueue:  queue.StateAllow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithResumeGate(func() bool { return true }))
			f.hook.suspend = tt.suspend
			f.coord.SetDeviceState(DeviceD0)
			f.queue.SetState(queue.StateAllow)

			r := NewQueryDevice(tt.target, "test")
			f.dispatch(r)
			if got := waitDone(t, r); got != tt.wantStatus {
				t.Errorf("status = %v, want %v", got, tt.wantStatus)
			}
			waitIdle(t, f.tracker)

			if diff := cmp.Diff(tt.wantTrace, f.rec.list()); diff != "" {
				t.Errorf("trace mismatch (-want +got):\n%s", diff)
			}
			if got := f.queue.State(); got != tt.wantQueue {
				t.Errorf("queue state = %v, want %v", got, tt.wantQueue)
			}
		})
	}
}

func TestPowerDownWaitsForInFlightWork(t *testing.T) {
	f := newFixture(t)
	f.coord.SetDeviceState(DeviceD0)
	f.queue.SetState(queue.StateAllow)

	// One operation already admitted and not yet finished.
	f.tracker.Increment()

	r := NewSetDevice(DeviceD3, "test")
	f.dispatch(r)

	time.Sleep(50 * time.Millisecond)
	if got := f.rec.list(); len(got) != 0 {
		t.Fatalf("power-down ran before drain: %v", got)
	}
	if got := f.queue.State(); got != queue.StateHold {
		t.Errorf("queue state during drain = %v, want Hold", got)
	}

	f.tracker.Decrement()
	waitDone(t, r)
	waitIdle(t, f.tracker)

	want := []string{"action D0->D3", "forward set D3"}
	if diff := cmp.Diff(want, f.rec.list()); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

type stateObserver struct {
	mu      sync.Mutex
	devices []DeviceState
	systems []SystemState
}

func (o *stateObserver) OnSystemPowerState(old, new SystemState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.systems = append(o.systems, new)
}

func (o *stateObserver) OnDevicePowerState(old, new DeviceState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.devices = append(o.devices, new)
}

func TestObserverSeesRecordedStates(t *testing.T) {
	obs := &stateObserver{}
	f := newFixture(t, WithObserver(obs))
	f.coord.SetDeviceState(DeviceD0)

	s := NewSetSystem(SystemHibernate, "hibernate")
	f.dispatch(s)
	waitDone(t, s)
	waitIdle(t, f.tracker)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if diff := cmp.Diff([]DeviceState{DeviceD0, DeviceD3}, obs.devices); diff != "" {
		t.Errorf("device states mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]SystemState{SystemHibernate}, obs.systems); diff != "" {
		t.Errorf("system states mismatch (-want +got):\n%s", diff)
	}
}
