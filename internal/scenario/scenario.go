// Package scenario drives instances against the simulated lower layer and
// checks that they end up where they should.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bft-labs/pnpcoord/internal/sim"
	"github.com/bft-labs/pnpcoord/pkg/device"
	"github.com/bft-labs/pnpcoord/pkg/flags"
	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/pkg/queue"
	"github.com/bft-labs/pnpcoord/pkg/request"
)

// ErrFailed is returned when a scenario observes an unexpected state.
var ErrFailed = errors.New("scenario: check failed")

// ErrUnknown is returned for a scenario name that does not exist.
var ErrUnknown = errors.New("scenario: unknown scenario")

// Config configures a Runner.
type Config struct {
	Iterations   int
	Workers      int
	Device       device.Config
	Capabilities power.Capabilities
	Latency      time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Iterations:   10,
		Workers:      4,
		Device:       device.DefaultConfig(),
		Capabilities: power.DefaultCapabilities(),
		Latency:      time.Millisecond,
	}
}

// Result summarizes one scenario run.
type Result struct {
	Name       string
	Iterations int
	Requests   int64
	Duration   time.Duration
}

// Func is one scenario.
type Func func(ctx context.Context, r *Runner) (Result, error)

var scenarios = map[string]Func{
	"lifecycle": Lifecycle,
	"power":     Power,
	"wake":      Wake,
	"stress":    Stress,
}

// Names returns the scenario names in the order "all" runs them.
func Names() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner creates instances for scenarios and collects their results.
type Runner struct {
	config    Config
	logger    log.Logger
	flagStore flags.Store
	opts      []device.Option
	plugins   []func() device.Plugin
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for the runner and the instances it creates.
func WithLogger(logger log.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithFlagStore sets the flag store instances persist their flags in.
func WithFlagStore(s flags.Store) Option {
	return func(r *Runner) { r.flagStore = s }
}

// WithDeviceOptions adds options applied to every instance.
func WithDeviceOptions(opts ...device.Option) Option {
	return func(r *Runner) { r.opts = append(r.opts, opts...) }
}

// WithPluginFactory adds a plugin built fresh for every instance.
func WithPluginFactory(fn func() device.Plugin) Option {
	return func(r *Runner) { r.plugins = append(r.plugins, fn) }
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, opts ...Option) *Runner {
	if cfg.Iterations < 1 {
		cfg.Iterations = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	r := &Runner{
		config: cfg,
		logger: log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.flagStore == nil {
		r.flagStore = flags.NewMemoryStore()
	}
	return r
}

// Run runs the named scenario, or every scenario for "all".
func (r *Runner) Run(ctx context.Context, name string) ([]Result, error) {
	if name == "all" {
		var results []Result
		for _, n := range Names() {
			res, err := r.runOne(ctx, n, scenarios[n])
			if err != nil {
				return results, err
			}
			results = append(results, res)
		}
		return results, nil
	}

	fn, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	res, err := r.runOne(ctx, name, fn)
	if err != nil {
		return nil, err
	}
	return []Result{res}, nil
}

func (r *Runner) runOne(ctx context.Context, name string, fn Func) (Result, error) {
	r.logger.Info("scenario starting", log.String("scenario", name))
	start := time.Now()
	res, err := fn(ctx, r)
	res.Name = name
	res.Duration = time.Since(start)
	if err != nil {
		r.logger.Error("scenario failed", log.String("scenario", name), log.Err(err))
		return res, fmt.Errorf("scenario %s: %w", name, err)
	}
	r.logger.Info("scenario passed",
		log.String("scenario", name),
		log.Int("iterations", res.Iterations),
		log.Int64("requests", res.Requests),
		log.Duration("duration", res.Duration),
	)
	return res, nil
}

// newInstance creates an instance named after the scenario and iteration
// on top of a fresh simulated lower layer.
func (r *Runner) newInstance(name string, iteration int, lowerOpts ...sim.Option) (*device.Instance, *sim.Lower, error) {
	lowerOpts = append([]sim.Option{
		sim.WithCapabilities(r.config.Capabilities),
		sim.WithLatency(r.config.Latency),
		sim.WithLogger(r.logger),
	}, lowerOpts...)
	lower := sim.NewLower(lowerOpts...)

	cfg := r.config.Device
	cfg.Name = fmt.Sprintf("%s-%s-%d", cfg.Name, name, iteration)

	opts := append([]device.Option{
		device.WithLogger(r.logger),
		device.WithFlagStore(r.flagStore),
	}, r.opts...)
	for _, fn := range r.plugins {
		opts = append(opts, device.WithPlugin(fn()))
	}
	inst, err := device.New(cfg, lower, opts...)
	if err != nil {
		return nil, nil, err
	}
	return inst, lower, nil
}

// submitReads submits n reads from owner and returns them.
func submitReads(inst *device.Instance, owner string, n int) []*request.Request {
	reqs := make([]*request.Request, 0, n)
	for j := 0; j < n; j++ {
		req := request.New(request.KindRead, request.WithOwner(owner))
		inst.Submit(req)
		reqs = append(reqs, req)
	}
	return reqs
}

// expectAll waits for every request and checks its status.
func expectAll(ctx context.Context, reqs []*request.Request, want request.Status) error {
	for _, req := range reqs {
		status, err := req.Wait(ctx)
		if err != nil {
			return fmt.Errorf("wait for %s request: %w", req.Kind, err)
		}
		if status != want {
			return fmt.Errorf("%w: request status %s, want %s", ErrFailed, status, want)
		}
	}
	return nil
}

// expect returns an ErrFailed error when got differs from want.
func expect[T comparable](what string, got, want T) error {
	if got != want {
		return fmt.Errorf("%w: %s is %v, want %v", ErrFailed, what, got, want)
	}
	return nil
}

// poll waits until cond holds or ctx ends.
func poll(ctx context.Context, what string, cond func() bool) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for !cond() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: timed out waiting for %s", ErrFailed, what)
		case <-ticker.C:
		}
	}
	return nil
}

// powerCycle suspends to s and resumes, waiting for the instance to
// return to D0 with admission open.
func powerCycle(ctx context.Context, inst *device.Instance, s power.SystemState) error {
	suspend := power.NewSetSystem(s, "scenario suspend")
	inst.DispatchPower(suspend)
	if status, err := suspend.Wait(ctx); err != nil || !status.OK() {
		return fmt.Errorf("%w: suspend to %s: status %s, err %v", ErrFailed, s, status, err)
	}

	resume := power.NewSetSystem(power.SystemWorking, "scenario resume")
	inst.DispatchPower(resume)
	if status, err := resume.Wait(ctx); err != nil || !status.OK() {
		return fmt.Errorf("%w: resume: status %s, err %v", ErrFailed, status, err)
	}
	return poll(ctx, "device power-up", func() bool {
		snap := inst.Snapshot()
		return snap.DevicePower == power.DeviceD0 && snap.Queue == queue.StateAllow
	})
}
