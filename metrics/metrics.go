// Package metrics exposes session and refresh metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token/refresh"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics namespace for all session metrics.
const metricsNamespace = "auth_session"

var _ refresh.Observer = (*Metrics)(nil)

// Metrics implements refresh.Observer and counts external session changes.
type Metrics struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	refreshWaiters  prometheus.Histogram
	refreshInFlight prometheus.Gauge
	sessionChanges  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// refreshTotal counts finished renewal cycles by outcome.
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "refresh_total",
				Help:      "Total token renewal cycles by outcome",
			},
			[]string{"outcome"},
		),
		refreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "refresh_duration_seconds",
				Help:      "Duration of token renewal cycles in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		// refreshWaiters shows how many callers each renewal served.
		refreshWaiters: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "refresh_waiters",
				Help:      "Callers served by a single renewal cycle",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
			},
		),
		refreshInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "refresh_in_flight",
				Help:      "Number of renewal cycles currently in flight",
			},
		),
		sessionChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "external_changes_total",
				Help:      "Session changes made by other execution contexts",
			},
			[]string{"authenticated"},
		),
	}

	reg.MustRegister(
		m.refreshTotal,
		m.refreshDuration,
		m.refreshWaiters,
		m.refreshInFlight,
		m.sessionChanges,
	)
	return m
}

func (m *Metrics) RefreshStarted() {
	m.refreshInFlight.Inc()
}

func (m *Metrics) RefreshFinished(outcome refresh.Outcome, waiters int, elapsed time.Duration) {
	m.refreshInFlight.Dec()
	m.refreshTotal.WithLabelValues(string(outcome)).Inc()
	m.refreshDuration.Observe(elapsed.Seconds())
	m.refreshWaiters.Observe(float64(waiters))
}

// SessionChanged is a session.State change hook.
func (m *Metrics) SessionChanged(s session.Session) {
	label := "false"
	if s.IsAuthenticated() {
		label = "true"
	}
	m.sessionChanges.WithLabelValues(label).Inc()
}
