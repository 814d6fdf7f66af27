// Package metrics exposes Prometheus instrumentation for chat session
// recovery.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the recovery collectors and the registry they live in.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	outcomes          *prometheus.CounterVec
	heartbeats        prometheus.Counter
	activeRecoveries  prometheus.Gauge
	disconnectedStaff prometheus.Gauge
	recoveryDuration  prometheus.Histogram
}

// New registers the recovery collectors plus the Go runtime collector on a
// fresh registry.
func New(namespace string) *Metrics {
	ns := fmtName(namespace)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "recovery",
			Name:      "outcomes_total",
			Help:      "Resolved recovery steps by outcome and reason.",
		}, []string{"outcome", "reason"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "recovery",
			Name:      "staff_heartbeats_total",
			Help:      "Staff heartbeats received.",
		}),
		activeRecoveries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "recovery",
			Name:      "active_sessions",
			Help:      "Chat sessions currently holding a recovery record.",
		}),
		disconnectedStaff: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "recovery",
			Name:      "disconnected_staff",
			Help:      "Staff members currently flagged as disconnected.",
		}),
		recoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "recovery",
			Name:      "duration_seconds",
			Help:      "Time from staff disconnect to the session leaving recovery.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}
	reg.MustRegister(m.outcomes, m.heartbeats, m.activeRecoveries, m.disconnectedStaff, m.recoveryDuration)
	return m
}

// Outcome counts one resolved step (reassigned, requeued, escalated, ended).
func (m *Metrics) Outcome(outcome, reason string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome, reason).Inc()
}

// HeartbeatInc counts a received staff heartbeat.
func (m *Metrics) HeartbeatInc() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

// SetActiveRecoveries records the number of live recovery records.
func (m *Metrics) SetActiveRecoveries(n int) {
	if m == nil {
		return
	}
	m.activeRecoveries.Set(float64(n))
}

// SetDisconnectedStaff records the number of staff flagged disconnected.
func (m *Metrics) SetDisconnectedStaff(n int) {
	if m == nil {
		return
	}
	m.disconnectedStaff.Set(float64(n))
}

// ObserveRecovery records how long a session spent in recovery.
func (m *Metrics) ObserveRecovery(d time.Duration) {
	if m == nil {
		return
	}
	m.recoveryDuration.Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// fmtName turns a free-form namespace into a valid metric name fragment.
func fmtName(s string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_", "/", "_").Replace(s)
}
