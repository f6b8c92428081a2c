package deferred

import (
	"context"
	"errors"
	"sync"

	"github.com/bft-labs/pnpcoord/pkg/log"
)

// Dispatcher errors.
var (
	// ErrInsufficientResources means the work queue is full. The caller
	// still owns whatever the callback would have finished.
	ErrInsufficientResources = errors.New("pnpcoord: deferred work queue full")
	// ErrClosed means the dispatcher no longer accepts work.
	ErrClosed = errors.New("pnpcoord: deferred dispatcher closed")
)

// DefaultCapacity is the default number of work items that may wait for
// the worker.
const DefaultCapacity = 64

// Callback is deferred work. ctx is always blocking-capable.
type Callback func(ctx context.Context)

type blockingKey struct{}

// WithBlocking marks ctx as belonging to a caller that may block.
func WithBlocking(ctx context.Context) context.Context {
	return context.WithValue(ctx, blockingKey{}, true)
}

// CanBlock reports whether ctx was marked with WithBlocking.
func CanBlock(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(blockingKey{}).(bool)
	return v
}

// workItem carries one callback to the worker.
type workItem struct {
	name string
	fn   Callback
}

// Dispatcher runs callbacks on a single worker goroutine, in submission
// order.
type Dispatcher struct {
	mu     sync.RWMutex
	closed bool
	work   chan workItem

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger log.Logger
}

// Option configures a Dispatcher.
type Option func(*config)

type config struct {
	capacity int
	logger   log.Logger
}

// WithCapacity bounds the number of waiting work items.
func WithCapacity(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// New starts a dispatcher and its worker.
func New(opts ...Option) *Dispatcher {
	cfg := config{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		work:   make(chan workItem, cfg.capacity),
		ctx:    WithBlocking(ctx),
		cancel: cancel,
		logger: log.OrNoop(cfg.logger),
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// Run guarantees fn executes in a context that may block. If ctx is
// already blocking-capable, fn runs inline before Run returns. Otherwise
// fn is handed to the worker and Run returns immediately; fn then runs
// exactly once. A full queue returns ErrInsufficientResources and a closed
// dispatcher returns ErrClosed, and in both cases fn never runs.
func (d *Dispatcher) Run(ctx context.Context, name string, fn Callback) error {
	if CanBlock(ctx) {
		fn(ctx)
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.work <- workItem{name: name, fn: fn}:
		return nil
	default:
		d.logger.Warn("deferred work rejected", log.String("work", name))
		return ErrInsufficientResources
	}
}

// Pending returns the number of queued work items.
func (d *Dispatcher) Pending() int {
	return len(d.work)
}

// Close stops accepting work, lets the worker finish what is queued and
// waits for it to exit.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.work)
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
	return nil
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for item := range d.work {
		d.logger.Debug("running deferred work", log.String("work", item.name))
		item.fn(d.ctx)
	}
}
