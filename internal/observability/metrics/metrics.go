// Package metrics holds the engine's Prometheus collectors. All metrics use
// the "offline_engine" namespace.
//
// Request outcomes: network | cache_hit | fallback | placeholder | shell |
// offline_page | error | pass_through | queued
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "offline_engine"

// Request outcomes.
const (
	OutcomeNetwork     = "network"
	OutcomeCacheHit    = "cache_hit"
	OutcomeFallback    = "fallback"
	OutcomePlaceholder = "placeholder"
	OutcomeShell       = "shell"
	OutcomeOfflinePage = "offline_page"
	OutcomeError       = "error"
	OutcomePassThrough = "pass_through"
	OutcomeQueued      = "queued"
)

// Metrics is one set of collectors bound to a registry. Engines built in
// tests get their own registry so collectors never collide.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	CacheWriteFailures  *prometheus.CounterVec
	RevalidationsTotal  *prometheus.CounterVec
	QueueEnqueuedTotal  *prometheus.CounterVec
	QueueReplayedTotal  *prometheus.CounterVec
	QueueDepth          *prometheus.GaugeVec
	InstallsTotal       *prometheus.CounterVec
	StoresDeletedTotal  prometheus.Counter
	BackgroundTaskFails *prometheus.CounterVec
}

// New creates collectors on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// RequestsTotal counts intercepted requests by category and outcome.
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "requests_total",
			Help:      "Intercepted requests by category and outcome.",
		}, []string{"category", "outcome"}),

		CacheWriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "write_failures_total",
			Help:      "Abandoned cache writes by store.",
		}, []string{"store"}),

		// RevalidationsTotal counts background refreshes. result: updated | failed
		RevalidationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "revalidations_total",
			Help:      "Stale-while-revalidate background refreshes by result.",
		}, []string{"result"}),

		QueueEnqueuedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Requests queued for later replay by kind.",
		}, []string{"kind"}),

		// QueueReplayedTotal counts replays.
		// result: success | connectivity | auth_expired | malformed | server_error
		QueueReplayedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "replayed_total",
			Help:      "Queue replay attempts by kind and result.",
		}, []string{"kind", "result"}),

		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Items waiting in the sync queue by kind.",
		}, []string{"kind"}),

		// InstallsTotal counts install attempts. result: success | failed
		InstallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "installs_total",
			Help:      "Install attempts by version and result.",
		}, []string{"version", "result"}),

		StoresDeletedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "stores_deleted_total",
			Help:      "Stale cache stores deleted on activation.",
		}),

		BackgroundTaskFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "failures_total",
			Help:      "Detached background tasks that failed or panicked.",
		}, []string{"task"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves m in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest increments RequestsTotal. Safe on a nil receiver.
func (m *Metrics) ObserveRequest(category, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(category, outcome).Inc()
}
