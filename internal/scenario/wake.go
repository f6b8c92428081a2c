package scenario

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/bft-labs/pnpcoord/internal/sim"
	"github.com/bft-labs/pnpcoord/pkg/flags"
	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/pkg/request"
	"github.com/bft-labs/pnpcoord/pkg/wake"
)

// WakeCapabilities returns capabilities of an instance that keeps D2 in S3
// and can wake the platform from there.
func WakeCapabilities() power.Capabilities {
	c := power.DefaultCapabilities()
	c.DeviceState[power.SystemSleeping1] = power.DeviceD2
	c.DeviceState[power.SystemSleeping3] = power.DeviceD2
	c.DeviceWake = power.DeviceD2
	return c
}

// Wake arms wake on start, fires wake signals, suspends with wake armed and
// checks that an unsupported completion clears the persisted flag.
func Wake(ctx context.Context, r *Runner) (res Result, err error) {
	res.Iterations = r.config.Iterations

	caps := r.config.Capabilities
	if !power.AdjustCapabilities(caps).CanWake() {
		caps = WakeCapabilities()
	}
	inst, lower, err := r.newInstance("wake", 0, sim.WithCapabilities(caps))
	if err != nil {
		return res, err
	}
	defer func() { err = multierr.Append(err, inst.Close()) }()

	if _, err := inst.QueryCapabilities(ctx); err != nil {
		return res, fmt.Errorf("query capabilities: %w", err)
	}
	if err := inst.SetWakeEnabled(ctx, true); err != nil {
		return res, fmt.Errorf("enable wake: %w", err)
	}
	if err := inst.Start(ctx); err != nil {
		return res, fmt.Errorf("start: %w", err)
	}
	armed := func() bool { return lower.PendingWake() == 1 && inst.Snapshot().Wake == wake.Armed }
	if err := poll(ctx, "arm on start", armed); err != nil {
		return res, err
	}

	for it := 0; it < r.config.Iterations; it++ {
		if fired := lower.TriggerWake(request.StatusSuccess); fired != 1 {
			return res, fmt.Errorf("%w: iteration %d fired %d wake requests", ErrFailed, it, fired)
		}
		if err := poll(ctx, "re-arm after wake", armed); err != nil {
			return res, err
		}

		suspend := power.NewSetSystem(power.SystemSleeping3, "scenario suspend")
		inst.DispatchPower(suspend)
		if status, werr := suspend.Wait(ctx); werr != nil || !status.OK() {
			return res, fmt.Errorf("%w: suspend: status %s, err %v", ErrFailed, status, werr)
		}
		want := inst.Capabilities().DeviceStateFor(power.SystemSleeping3, true)
		if err := expect("device power with wake armed", inst.Snapshot().DevicePower, want); err != nil {
			return res, err
		}
		resume := power.NewSetSystem(power.SystemWorking, "scenario resume")
		inst.DispatchPower(resume)
		if _, werr := resume.Wait(ctx); werr != nil {
			return res, fmt.Errorf("resume: %w", werr)
		}
		res.Requests += 3
	}

	// The lower layer reports wake as unsupported: the flag is cleared.
	lower.TriggerWake(request.StatusNotSupported)
	if err := poll(ctx, "wake flag cleared", func() bool { return !inst.Snapshot().WakeEnabled }); err != nil {
		return res, err
	}
	enabled, err := r.flagStore.Bool(ctx, flags.KeyWakeEnabled)
	if err != nil {
		return res, fmt.Errorf("read wake flag: %w", err)
	}
	if err := expect("persisted wake flag", enabled, false); err != nil {
		return res, err
	}

	if err := inst.SetWakeEnabled(ctx, true); err != nil {
		return res, fmt.Errorf("re-enable wake: %w", err)
	}
	if err := poll(ctx, "arm after re-enable", armed); err != nil {
		return res, err
	}
	if err := inst.QueryRemove(ctx); err != nil {
		return res, fmt.Errorf("query-remove: %w", err)
	}
	if err := expect("wake after query-remove", inst.Snapshot().Wake, wake.Disarmed); err != nil {
		return res, err
	}
	if err := inst.CancelRemove(ctx); err != nil {
		return res, fmt.Errorf("cancel-remove: %w", err)
	}
	if err := poll(ctx, "arm after cancel-remove", armed); err != nil {
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
