package scenario

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/bft-labs/pnpcoord/internal/sim"
	"github.com/bft-labs/pnpcoord/pkg/lifecycle"
	"github.com/bft-labs/pnpcoord/pkg/queue"
	"github.com/bft-labs/pnpcoord/pkg/request"
)

// Lifecycle walks each instance through start, a drained and cancelled
// stop, a committed stop, restart and removal.
func Lifecycle(ctx context.Context, r *Runner) (Result, error) {
	res := Result{Iterations: r.config.Iterations}
	for it := 0; it < r.config.Iterations; it++ {
		n, err := lifecycleOnce(ctx, r, it)
		res.Requests += n
		if err != nil {
			return res, fmt.Errorf("iteration %d: %w", it, err)
		}
	}
	return res, nil
}

func lifecycleOnce(ctx context.Context, r *Runner, it int) (n int64, err error) {
	inst, lower, err := r.newInstance("lifecycle", it, sim.WithParkedIO(true))
	if err != nil {
		return 0, err
	}
	defer func() { err = multierr.Append(err, inst.Close()) }()

	// Requests submitted before start are parked and replayed in order.
	early := submitReads(inst, "early", 3)
	if err := expect("queue depth before start", inst.Snapshot().QueueDepth, 3); err != nil {
		return 0, err
	}
	if err := inst.Start(ctx); err != nil {
		return 0, fmt.Errorf("start: %w", err)
	}
	lower.ReleaseIO(-1)
	if err := expectAll(ctx, early, request.StatusSuccess); err != nil {
		return 0, err
	}

	// A query-stop waits for in-flight work; requests arriving meanwhile
	// are parked until the stop is cancelled.
	inflight := submitReads(inst, "inflight", 2)
	queried := make(chan error, 1)
	go func() { queried <- inst.QueryStop(ctx) }()
	if err := poll(ctx, "query-stop hold", func() bool { return inst.Snapshot().Queue == queue.StateHold }); err != nil {
		return 0, err
	}
	late := submitReads(inst, "late", 1)
	lower.ReleaseIO(-1)
	if err := <-queried; err != nil {
		return 0, fmt.Errorf("query-stop: %w", err)
	}
	if err := expectAll(ctx, inflight, request.StatusSuccess); err != nil {
		return 0, err
	}
	if err := inst.CancelStop(ctx); err != nil {
		return 0, fmt.Errorf("cancel-stop: %w", err)
	}
	if err := poll(ctx, "replay after cancel-stop", func() bool { return lower.ParkedIO() == 1 }); err != nil {
		return 0, err
	}
	lower.ReleaseIO(-1)
	if err := expectAll(ctx, late, request.StatusSuccess); err != nil {
		return 0, err
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
		want lifecycle.State
	}{
		{"query-stop", inst.QueryStop, lifecycle.StateStopPending},
		{"stop", inst.Stop, lifecycle.StateStopped},
		{"start", inst.Start, lifecycle.StateStarted},
		{"query-remove", inst.QueryRemove, lifecycle.StateRemovePending},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return 0, fmt.Errorf("%s: %w", step.name, err)
		}
		if err := expect("state after "+step.name, inst.State(), step.want); err != nil {
			return 0, err
		}
	}

	// Parked requests fail once the removal commits.
	orphan := submitReads(inst, "orphan", 2)
	if err := inst.Remove(ctx); err != nil {
		return 0, fmt.Errorf("remove: %w", err)
	}
	if err := expectAll(ctx, orphan, request.StatusNoSuchDevice); err != nil {
		return 0, err
	}
	if err := expect("outstanding after remove", inst.Snapshot().Outstanding, int64(0)); err != nil {
		return 0, err
	}
	if status := inst.Submit(request.New(request.KindRead)); status != request.StatusNoSuchDevice {
		return 0, fmt.Errorf("%w: submit after remove returned %s", ErrFailed, status)
	}
	return int64(len(early) + len(inflight) + len(late) + len(orphan)), nil
}
