// Package prom publishes instance state as Prometheus metrics.
package prom

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/pnpcoord/pkg/device"
	"github.com/bft-labs/pnpcoord/pkg/power"
)

const namespace = "pnpcoord"

// ErrDuplicate is returned when an instance name is registered twice.
var ErrDuplicate = errors.New("prom: instance already registered")

var (
	outstandingDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "outstanding_operations"),
		"Outstanding operation count, including the idle baseline.",
		[]string{"instance"}, nil,
	)
	queueDepthDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "queue", "depth"),
		"Requests parked in the admission queue.",
		[]string{"instance"}, nil,
	)
	queueStateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "queue", "state"),
		"Admission queue state; 1 for the current state.",
		[]string{"instance", "state"}, nil,
	)
	lifecycleDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "lifecycle", "state"),
		"Lifecycle state; 1 for the current state.",
		[]string{"instance", "state"}, nil,
	)
	powerDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "power", "state"),
		"Recorded power state per level; 1 for the current state.",
		[]string{"instance", "level", "state"}, nil,
	)
	wakeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "wake", "state"),
		"Wake arming state; 1 for the current state.",
		[]string{"instance", "state"}, nil,
	)
	flagDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "flag_enabled"),
		"Persisted instance flags.",
		[]string{"instance", "flag"}, nil,
	)
)

// Registry implements device.Registry and device.EventHandler on top of a
// Prometheus registerer. Registered instances are read on every scrape.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]device.Source

	transitions *prometheus.CounterVec
}

// NewRegistry creates a Registry and registers its collectors with reg.
func NewRegistry(reg prometheus.Registerer) (*Registry, error) {
	r := &Registry{
		sources: make(map[string]device.Source),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Lifecycle and power state changes.",
			},
			[]string{"instance", "kind", "to"},
		),
	}
	if err := reg.Register(r); err != nil {
		return nil, fmt.Errorf("prom: register collector: %w", err)
	}
	if err := reg.Register(r.transitions); err != nil {
		return nil, fmt.Errorf("prom: register transitions: %w", err)
	}
	return r, nil
}

// Register implements device.Registry.
func (r *Registry) Register(name string, src device.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	r.sources[name] = src
	return nil
}

// Deregister implements device.Registry. Unknown names are ignored.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, name)
	return nil
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// OnStateChange implements device.EventHandler.
func (r *Registry) OnStateChange(e device.StateChangeEvent) {
	r.transitions.WithLabelValues(e.Instance, "lifecycle", e.Current.String()).Inc()
}

// OnPowerChange implements device.EventHandler.
func (r *Registry) OnPowerChange(e device.PowerChangeEvent) {
	to := e.CurrentDevice.String()
	if e.Type == power.TypeSystem {
		to = e.CurrentSystem.String()
	}
	r.transitions.WithLabelValues(e.Instance, "power", to).Inc()
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- outstandingDesc
	ch <- queueDepthDesc
	ch <- queueStateDesc
	ch <- lifecycleDesc
	ch <- powerDesc
	ch <- wakeDesc
	ch <- flagDesc
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.mu.RLock()
	sources := make([]device.Source, 0, len(r.sources))
	for _, src := range r.sources {
		sources = append(sources, src)
	}
	r.mu.RUnlock()

	for _, src := range sources {
		s := src.Snapshot()
		ch <- prometheus.MustNewConstMetric(outstandingDesc, prometheus.GaugeValue, float64(s.Outstanding), s.Name)
		ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(s.QueueDepth), s.Name)
		ch <- prometheus.MustNewConstMetric(queueStateDesc, prometheus.GaugeValue, 1, s.Name, s.Queue.String())
		ch <- prometheus.MustNewConstMetric(lifecycleDesc, prometheus.GaugeValue, 1, s.Name, s.Lifecycle.String())
		ch <- prometheus.MustNewConstMetric(powerDesc, prometheus.GaugeValue, 1, s.Name, "system", s.SystemPower.String())
		ch <- prometheus.MustNewConstMetric(powerDesc, prometheus.GaugeValue, 1, s.Name, "device", s.DevicePower.String())
		ch <- prometheus.MustNewConstMetric(wakeDesc, prometheus.GaugeValue, 1, s.Name, s.Wake.String())
		ch <- prometheus.MustNewConstMetric(flagDesc, prometheus.GaugeValue, boolValue(s.WakeEnabled), s.Name, "wake")
		ch <- prometheus.MustNewConstMetric(flagDesc, prometheus.GaugeValue, boolValue(s.IdleDetectionEnabled), s.Name, "idle_detection")
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
