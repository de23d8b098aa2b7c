// Package daemonmetrics exposes the daemon's Prometheus metrics
// (SPEC_FULL.md domain-stack: queue depth, running workers, events
// processed), grounded on the teacher's prometheus.GaugeVec usage in its
// internal/monitoring/socket_listener.go.
package daemonmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the daemon's gauge/counter set, registered against a
// caller-supplied registry so /metrics can be served independently of the
// default global registry.
type Metrics struct {
	OrderingQueueDepth prometheus.Gauge
	ExecQueueDepth     prometheus.Gauge
	WorkersRunning     prometheus.Gauge
	EventsProcessed    *prometheus.CounterVec
	ForkErrors         prometheus.Counter
	Registry           *prometheus.Registry
}

// New creates and registers the daemon's metrics against registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrderingQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devnoded",
			Name:      "ordering_queue_depth",
			Help:      "Number of events currently held for sequence-number ordering.",
		}),
		ExecQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devnoded",
			Name:      "exec_queue_depth",
			Help:      "Number of events waiting for a fork slot.",
		}),
		WorkersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devnoded",
			Name:      "workers_running",
			Help:      "Number of currently running worker processes.",
		}),
		EventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devnoded",
			Name:      "events_processed_total",
			Help:      "Events for which a worker was forked, by action.",
		}, []string{"action"}),
		ForkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devnoded",
			Name:      "fork_errors_total",
			Help:      "Worker fork attempts that failed.",
		}),
		Registry: registry,
	}
	registry.MustRegister(m.OrderingQueueDepth, m.ExecQueueDepth, m.WorkersRunning, m.EventsProcessed, m.ForkErrors)
	return m
}
