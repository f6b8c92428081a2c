package scenario

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/pkg/request"
)

// requestsPerWorker is how many reads each stress worker submits per
// iteration.
const requestsPerWorker = 16

// Stress submits reads from several workers while the instance is cycled
// through power transitions and cancelled stops, then removes it and
// checks that every request completed and nothing is left outstanding.
func Stress(ctx context.Context, r *Runner) (res Result, err error) {
	res.Iterations = r.config.Iterations

	inst, _, err := r.newInstance("stress", 0)
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, inst.Close()) }()

	if err := inst.Start(ctx); err != nil {
		return res, fmt.Errorf("start: %w", err)
	}

	var submitted atomic.Int64
	for it := 0; it < r.config.Iterations; it++ {
		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < r.config.Workers; w++ {
			owner := fmt.Sprintf("worker-%d", w)
			g.Go(func() error {
				reqs := submitReads(inst, owner, requestsPerWorker)
				submitted.Add(int64(len(reqs)))
				for _, req := range reqs {
					status, err := req.Wait(gctx)
					if err != nil {
						return err
					}
					if !status.OK() {
						return fmt.Errorf("%w: %s read completed with %s", ErrFailed, owner, status)
					}
				}
				return nil
			})
		}
		g.Go(func() error {
			if it%2 == 0 {
				return powerCycle(gctx, inst, power.SystemSleeping3)
			}
			if err := inst.QueryStop(gctx); err != nil {
				return fmt.Errorf("query-stop: %w", err)
			}
			return inst.CancelStop(gctx)
		})
		if err := g.Wait(); err != nil {
			return res, fmt.Errorf("iteration %d: %w", it, err)
		}
	}

	// Anything still parked at removal fails with "no such device".
	if err := inst.QueryRemove(ctx); err != nil {
		return res, fmt.Errorf("query-remove: %w", err)
	}
	orphan := submitReads(inst, "orphan", r.config.Workers)
	submitted.Add(int64(len(orphan)))
	if err := inst.Remove(ctx); err != nil {
		return res, fmt.Errorf("remove: %w", err)
	}
	if err := expectAll(ctx, orphan, request.StatusNoSuchDevice); err != nil {
		return res, err
	}
	if err := expect("outstanding after remove", inst.Snapshot().Outstanding, int64(0)); err != nil {
		return res, err
	}

	res.Requests = submitted.Load()
	return res, nil
}
