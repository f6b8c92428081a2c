package device

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/bft-labs/pnpcoord/pkg/lifecycle"
	"github.com/bft-labs/pnpcoord/pkg/log"
)

// teardown runs the side effects of a committed stop or removal. Every
// step runs even if an earlier one fails.
func (i *Instance) teardown(ctx context.Context, t lifecycle.Transition) error {
	var err error

	if derr := i.wake.Disarm(ctx, true); derr != nil {
		err = multierr.Append(err, derr)
	}
	if i.bindings != nil {
		if derr := i.bindings.Detach(ctx); derr != nil {
			err = multierr.Append(err, fmt.Errorf("device: detach bindings: %w", derr))
		}
	}
	if t != lifecycle.TransitionStop {
		err = multierr.Append(err, i.deregister())
	}

	i.logger.Debug("teardown complete",
		log.Stringer("transition", t),
		log.Int("errors", len(multierr.Errors(err))),
	)
	return err
}

func (i *Instance) register() {
	if i.registry == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.registered {
		return
	}
	if err := i.registry.Register(i.name, i); err != nil {
		i.logger.Warn("instrumentation registration failed", log.Err(err))
		return
	}
	i.registered = true
}

func (i *Instance) deregister() error {
	if i.registry == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.registered {
		return nil
	}
	i.registered = false
	if err := i.registry.Deregister(i.name); err != nil {
		return fmt.Errorf("device: deregister instrumentation: %w", err)
	}
	return nil
}
