// Package sim provides an in-process lower layer for running instances
// without hardware.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/pnpcoord/pkg/log"
	"github.com/bft-labs/pnpcoord/pkg/power"
	"github.com/bft-labs/pnpcoord/pkg/request"
)

// Lower is a simulated next layer. Power and PnP requests complete
// synchronously with success, wait-wake requests stay pending until
// TriggerWake, and I/O requests complete synchronously, after a delay, or
// when released, depending on configuration.
type Lower struct {
	mu      sync.Mutex
	caps    power.Capabilities
	latency time.Duration
	parkIO  bool
	failIO  request.Status

	parked []*request.Request
	wake   []*request.Request
	trace  []string
	counts map[request.Kind]int

	logger log.Logger
}

// Option configures a Lower.
type Option func(*Lower)

// WithCapabilities sets what a query-capabilities request reports.
func WithCapabilities(caps power.Capabilities) Option {
	return func(l *Lower) { l.caps = caps }
}

// WithLatency completes I/O requests asynchronously after d.
func WithLatency(d time.Duration) Option {
	return func(l *Lower) { l.latency = d }
}

// WithParkedIO keeps I/O requests pending until ReleaseIO.
func WithParkedIO(park bool) Option {
	return func(l *Lower) { l.parkIO = park }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(l *Lower) { l.logger = log.OrNoop(logger) }
}

// NewLower creates a simulated lower layer.
func NewLower(opts ...Option) *Lower {
	l := &Lower{
		caps:   power.DefaultCapabilities(),
		counts: make(map[request.Kind]int),
		logger: log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Forward implements request.Forwarder.
func (l *Lower) Forward(r *request.Request) request.Status {
	l.record(r)

	switch r.Kind {
	case request.KindPower:
		if power.MinorOf(r) == power.MinorWaitWake {
			return l.parkWake(r)
		}
		r.Complete(request.StatusSuccess)
		return request.StatusSuccess

	case request.KindPnP:
		if caps, ok := r.Payload.(*power.Capabilities); ok {
			l.mu.Lock()
			*caps = l.caps
			l.mu.Unlock()
		}
		r.Complete(request.StatusSuccess)
		return request.StatusSuccess
	}

	l.mu.Lock()
	park, latency, status := l.parkIO, l.latency, l.failIO
	l.mu.Unlock()

	switch {
	case park:
		return l.parkRequest(r)
	case latency > 0:
		time.AfterFunc(latency, func() { r.Complete(status) })
		return request.StatusPending
	default:
		r.Complete(status)
		return status
	}
}

// SetParkIO switches parking of I/O requests on or off.
func (l *Lower) SetParkIO(park bool) {
	l.mu.Lock()
	l.parkIO = park
	l.mu.Unlock()
}

// SetIOStatus sets the status non-parked I/O requests complete with.
func (l *Lower) SetIOStatus(status request.Status) {
	l.mu.Lock()
	l.failIO = status
	l.mu.Unlock()
}

// ReleaseIO completes up to n parked I/O requests in arrival order with
// success and returns how many it completed. n < 0 releases all.
func (l *Lower) ReleaseIO(n int) int {
	l.mu.Lock()
	if n < 0 || n > len(l.parked) {
		n = len(l.parked)
	}
	batch := append([]*request.Request(nil), l.parked[:n]...)
	l.parked = l.parked[n:]
	l.mu.Unlock()

	released := 0
	for _, r := range batch {
		if r.TryClaim() {
			r.Complete(request.StatusSuccess)
			released++
		}
	}
	return released
}

// TriggerWake completes every pending wait-wake request with status and
// returns how many there were.
func (l *Lower) TriggerWake(status request.Status) int {
	l.mu.Lock()
	batch := l.wake
	l.wake = nil
	l.mu.Unlock()

	fired := 0
	for _, r := range batch {
		if r.TryClaim() {
			r.Complete(status)
			fired++
		}
	}
	if fired > 0 {
		l.logger.Debug("simulated wake", log.Int("requests", fired), log.Stringer("status", status))
	}
	return fired
}

// ParkedIO returns the number of parked I/O requests.
func (l *Lower) ParkedIO() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.parked)
}

// PendingWake returns the number of pending wait-wake requests.
func (l *Lower) PendingWake() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.wake)
}

// Count returns how many requests of kind were forwarded.
func (l *Lower) Count(kind request.Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[kind]
}

// Trace returns a description of every forwarded request, in order.
func (l *Lower) Trace() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.trace...)
}

// Describe formats r the way Trace records it.
func Describe(r *request.Request) string {
	switch r.Kind {
	case request.KindPower:
		p, ok := power.ParamsOf(r)
		if !ok {
			return "power"
		}
		switch {
		case power.MinorOf(r) == power.MinorWaitWake:
			return fmt.Sprintf("power wait-wake %s", p.System)
		case p.Type == power.TypeSystem:
			return fmt.Sprintf("power %s %s", power.MinorOf(r), p.System)
		default:
			return fmt.Sprintf("power %s %s", power.MinorOf(r), p.Device)
		}
	case request.KindPnP:
		return fmt.Sprintf("pnp %d", r.Minor)
	default:
		if r.Owner != "" {
			return fmt.Sprintf("%s %s", r.Kind, r.Owner)
		}
		return r.Kind.String()
	}
}

func (l *Lower) record(r *request.Request) {
	l.mu.Lock()
	l.trace = append(l.trace, Describe(r))
	l.counts[r.Kind]++
	l.mu.Unlock()
}

func (l *Lower) parkWake(r *request.Request) request.Status {
	r.SetCancelHandler(func(r *request.Request) {
		l.mu.Lock()
		l.wake = remove(l.wake, r)
		l.mu.Unlock()
		r.Complete(request.StatusCancelled)
	})
	l.mu.Lock()
	l.wake = append(l.wake, r)
	l.mu.Unlock()
	return request.StatusPending
}

func (l *Lower) parkRequest(r *request.Request) request.Status {
	r.SetCancelHandler(func(r *request.Request) {
		l.mu.Lock()
		l.parked = remove(l.parked, r)
		l.mu.Unlock()
		r.Complete(request.StatusCancelled)
	})
	l.mu.Lock()
	l.parked = append(l.parked, r)
	l.mu.Unlock()
	return request.StatusPending
}

func remove(list []*request.Request, r *request.Request) []*request.Request {
	for i, p := range list {
		if p == r {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
