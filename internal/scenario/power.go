package scenario

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/pkg/queue"
	"github.com/bft-labs/pnpcoord/pkg/request"
)

// sleepStates are cycled through by the power scenario.
var sleepStates = []power.SystemState{
	power.SystemSleeping1,
	power.SystemSleeping3,
	power.SystemHibernate,
}

// Power suspends and resumes a started instance, submitting work while it
// is suspended and checking that it runs after resume.
func Power(ctx context.Context, r *Runner) (res Result, err error) {
	res.Iterations = r.config.Iterations

	inst, _, err := r.newInstance("power", 0)
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, inst.Close()) }()

	if _, err := inst.QueryCapabilities(ctx); err != nil {
		return res, fmt.Errorf("query capabilities: %w", err)
	}
	if err := inst.Start(ctx); err != nil {
		return res, fmt.Errorf("start: %w", err)
	}

	for it := 0; it < r.config.Iterations; it++ {
		s := sleepStates[it%len(sleepStates)]

		suspend := power.NewSetSystem(s, "scenario suspend")
		inst.DispatchPower(suspend)
		if status, werr := suspend.Wait(ctx); werr != nil || !status.OK() {
			return res, fmt.Errorf("%w: suspend to %s: status %s, err %v", ErrFailed, s, status, werr)
		}
		snap := inst.Snapshot()
		want := inst.Capabilities().DeviceStateFor(s, false)
		if err := expect("device power after "+s.String(), snap.DevicePower, want); err != nil {
			return res, err
		}
		if err := expect("queue while suspended", snap.Queue, queue.StateHold); err != nil {
			return res, err
		}

		parked := submitReads(inst, "suspended", 2)
		res.Requests += int64(len(parked))

		resume := power.NewSetSystem(power.SystemWorking, "scenario resume")
		inst.DispatchPower(resume)
		if status, werr := resume.Wait(ctx); werr != nil || !status.OK() {
			return res, fmt.Errorf("%w: resume: status %s, err %v", ErrFailed, status, werr)
		}
		if err := expectAll(ctx, parked, request.StatusSuccess); err != nil {
			return res, fmt.Errorf("iteration %d: %w", it, err)
		}
		if err := expect("device power after resume", inst.Snapshot().DevicePower, power.DeviceD0); err != nil {
			return res, err
		}
	}

	// A device-level query that is accepted leaves admission held until a
	// set request follows.
	query := power.NewQueryDevice(power.DeviceD3, "scenario query")
	inst.DispatchPower(query)
	if status, werr := query.Wait(ctx); werr != nil || !status.OK() {
		return res, fmt.Errorf("%w: device query: status %s, err %v", ErrFailed, status, werr)
	}
	if err := powerCycle(ctx, inst, power.SystemSleeping3); err != nil {
		return res, err
	}

	if err := inst.QueryRemove(ctx); err != nil {
		return res, fmt.Errorf("query-remove: %w", err)
	}
	if err := inst.Remove(ctx); err != nil {
		return res, fmt.Errorf("remove: %w", err)
	}
	return res, nil
}
