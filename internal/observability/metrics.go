package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the service's Prometheus metrics: connection counts,
// message flow, query latency, search traffic, and classified errors.
//
// Create exactly once at startup; all metrics register with the default
// registry and surface on /metrics.
type Metrics struct {
	// ActiveSessions tracks currently connected sessions.
	ActiveSessions prometheus.Gauge

	// MessageCounter counts outbound protocol messages by type.
	// Labels: type (log|token|final_output|error|heartbeat|connection_status)
	MessageCounter *prometheus.CounterVec

	// QueryDuration measures end-to-end query processing latency in seconds.
	// Labels: status (success|error)
	QueryDuration *prometheus.HistogramVec

	// SearchCounter counts outbound search attempts by outcome.
	// Labels: status (success|error)
	SearchCounter *prometheus.CounterVec

	// ErrorCounter counts classified failures.
	// Labels: kind (validation|rate_limited|timeout|agent|connection|search|internal)
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rigmate_active_sessions",
				Help: "Current number of connected sessions",
			},
		),

		MessageCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigmate_messages_total",
				Help: "Total outbound protocol messages by type",
			},
			[]string{"type"},
		),

		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rigmate_query_duration_seconds",
				Help:    "End-to-end query processing latency in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		SearchCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigmate_searches_total",
				Help: "Total outbound search attempts by outcome",
			},
			[]string{"status"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigmate_errors_total",
				Help: "Total classified failures by kind",
			},
			[]string{"kind"},
		),
	}
}

// SessionConnected increments the active sessions gauge.
func (m *Metrics) SessionConnected() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionDisconnected decrements the active sessions gauge.
func (m *Metrics) SessionDisconnected() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

// MessageSent counts one outbound message.
func (m *Metrics) MessageSent(messageType string) {
	if m == nil {
		return
	}
	m.MessageCounter.WithLabelValues(messageType).Inc()
}

// RecordQuery records one completed query.
func (m *Metrics) RecordQuery(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordSearch counts one search attempt outcome.
func (m *Metrics) RecordSearch(status string) {
	if m == nil {
		return
	}
	m.SearchCounter.WithLabelValues(status).Inc()
}

// RecordError counts one classified failure.
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(kind).Inc()
}
