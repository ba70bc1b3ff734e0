// Package metrics provides Prometheus instrumentation for canflow components.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for canflow components.
type Registry struct {
	// Cyclic task metrics
	SendsTotal        *prometheus.CounterVec
	SendFailuresTotal *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
	TasksRunning      *prometheus.GaugeVec

	// Broadcast manager metrics
	TasksManaged *prometheus.GaugeVec
	BurstsTotal  *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by canflow components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

var (
	registriesMu sync.Mutex
	registries   = make(map[prometheus.Registerer]*Registry)
)

// NewRegistry returns the metrics registry for the given Prometheus
// registerer, creating and registering the collectors on first use. Repeated
// calls with the same registerer return the same Registry, so several
// components can share one without tripping duplicate registration.
func NewRegistry(reg prometheus.Registerer) *Registry {
	registriesMu.Lock()
	defer registriesMu.Unlock()
	if r, ok := registries[reg]; ok {
		return r
	}
	r := newRegistry(reg)
	registries[reg] = r
	return r
}

func newRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		SendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "canflow",
				Subsystem: "cyclic",
				Name:      "sends_total",
				Help:      "Total number of messages transmitted by cyclic tasks",
			},
			[]string{"task"},
		),

		SendFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "canflow",
				Subsystem: "cyclic",
				Name:      "send_failures_total",
				Help:      "Total number of transport failures that stopped a cyclic task",
			},
			[]string{"task"},
		),

		CycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "canflow",
				Subsystem: "cyclic",
				Name:      "cycle_duration_seconds",
				Help:      "Observed time per send cycle, lock wait and transmit included",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"task"},
		),

		TasksRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "canflow",
				Subsystem: "cyclic",
				Name:      "tasks_running",
				Help:      "Number of cyclic tasks currently running",
			},
			[]string{"channel"},
		),

		TasksManaged: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "canflow",
				Subsystem: "bcm",
				Name:      "tasks_managed",
				Help:      "Number of tasks registered with a broadcast manager",
			},
			[]string{"channel"},
		),

		BurstsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "canflow",
				Subsystem: "bcm",
				Name:      "bursts_total",
				Help:      "Total number of cron-scheduled burst transmissions",
			},
			[]string{"task"},
		),
	}
}
