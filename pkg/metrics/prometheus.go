// Package metrics provides Prometheus instruments for the poll loop.
//
// All Manager methods are safe on a nil receiver so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle results used as the "result" label of cycles_total.
const (
	ResultOK       = "ok"
	ResultSeeded   = "seeded"
	ResultUpstream = "upstream_error"
	ResultAuth     = "auth_error"
	ResultPersist  = "persist_error"
	ResultCanceled = "canceled"
)

// Notification stages used as the "stage" label of notify_failures_total.
const (
	StageSend  = "send"
	StageReact = "react"
)

// Phases reported by the phase gauge.
var phases = []string{"idle", "fetching", "diffing", "notifying", "persisting"}

type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry
	runtime   bool

	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	solveEvents     prometheus.Counter
	notifyFailures  *prometheus.CounterVec
	lastSuccess     prometheus.Gauge
	trackedContests prometheus.Gauge
	trackedUsers    prometheus.Gauge
	phase           *prometheus.GaugeVec
}

// NewManager creates a metrics manager. Without WithRegistry a fresh
// registry is used so the default global registry is never touched.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "simlog",
		buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	if m.runtime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.cycles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "cycles_total",
		Help:      "Poll cycles by result",
	}, []string{"result"})

	m.cycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one poll cycle",
		Buckets:   m.buckets,
	})

	m.solveEvents = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "solve_events_total",
		Help:      "Newly observed solves",
	})

	m.notifyFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "notify_failures_total",
		Help:      "Failed notification attempts by stage",
	}, []string{"stage"})

	m.lastSuccess = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last cycle that persisted its snapshot",
	})

	m.trackedContests = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "tracked_contests",
		Help:      "Contests currently tracked",
	})

	m.trackedUsers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "tracked_users",
		Help:      "Users currently tracked",
	})

	m.phase = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "phase",
		Help:      "1 for the reconciler phase in progress, 0 otherwise",
	}, []string{"phase"})
	for _, p := range phases {
		m.phase.WithLabelValues(p).Set(0)
	}
	m.phase.WithLabelValues("idle").Set(1)
}

// Registry returns the backing registry.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCycle records a finished cycle. Successful cycles (ok, seeded) also
// bump the last-success gauge.
func (m *Manager) ObserveCycle(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
	if result == ResultOK || result == ResultSeeded {
		m.lastSuccess.SetToCurrentTime()
	}
}

func (m *Manager) SolveEvent() {
	if m == nil {
		return
	}
	m.solveEvents.Inc()
}

func (m *Manager) NotifyFailure(stage string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(stage).Inc()
}

func (m *Manager) SetTracked(contests, users int) {
	if m == nil {
		return
	}
	m.trackedContests.Set(float64(contests))
	m.trackedUsers.Set(float64(users))
}

// SetPhase marks p as the current phase and clears the others.
func (m *Manager) SetPhase(p string) {
	if m == nil {
		return
	}
	for _, name := range phases {
		v := 0.0
		if name == p {
			v = 1
		}
		m.phase.WithLabelValues(name).Set(v)
	}
}
