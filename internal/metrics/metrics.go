// Package metrics exposes prometheus collectors for sync executions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steveyegge/syncpoint/internal/sync"
)

const namespace = "syncpoint"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	executions *prometheus.CounterVec
	results    *prometheus.CounterVec
	rounds     prometheus.Histogram
	duration   prometheus.Histogram
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Sync executions by terminal status.",
		}, []string{"status"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participant_results_total",
			Help:      "Last result reported by each participant per execution.",
		}, []string{"participant", "result"}),
		rounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_rounds",
			Help:      "Transport calls per execution.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time per execution.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.executions,
		m.results,
		m.rounds,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one terminal outcome.
func (m *Metrics) Observe(out sync.Outcome) {
	m.executions.WithLabelValues(string(out.Status)).Inc()
	m.rounds.Observe(float64(out.Rounds))
	m.duration.Observe(out.Duration().Seconds())
	for name, kind := range out.Participants {
		m.results.WithLabelValues(name, string(kind)).Inc()
	}
}

// TrackSyncing exports fn as a 0/1 gauge of whether an execution is running.
func (m *Metrics) TrackSyncing(fn func() bool) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "syncing",
		Help:      "1 while a sync execution is in flight.",
	}, func() float64 {
		if fn() {
			return 1
		}
		return 0
	}))
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
