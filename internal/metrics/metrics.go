// Package metrics provides Prometheus metrics for the chat server
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Credit check outcomes.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeError   = "error"
)

// Metrics holds the chat server collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	CreditChecksTotal       *prometheus.CounterVec
	BillingRequestsTotal    *prometheus.CounterVec
	BillingRequestDuration  *prometheus.HistogramVec
	CompletionStreamsTotal  *prometheus.CounterVec
	CompletionFragmentTotal prometheus.Counter
	CompletionDuration      prometheus.Histogram
	SessionsActive          prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.CreditChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_credit_checks_total",
			Help: "Total number of credit checks by outcome",
		},
		[]string{"outcome"},
	)

	m.BillingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_billing_requests_total",
			Help: "Total number of billing API requests",
		},
		[]string{"operation", "status"},
	)

	m.BillingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_billing_request_duration_seconds",
			Help:    "Duration of billing API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	m.CompletionStreamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_completion_streams_total",
			Help: "Total number of completion streams by status",
		},
		[]string{"status"},
	)

	m.CompletionFragmentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_completion_fragments_total",
			Help: "Total number of text fragments streamed to clients",
		},
	)

	m.CompletionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_completion_duration_seconds",
			Help:    "Duration of completion streams in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	m.SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of conversations held by the session registry",
		},
	)

	reg.MustRegister(
		m.CreditChecksTotal,
		m.BillingRequestsTotal,
		m.BillingRequestDuration,
		m.CompletionStreamsTotal,
		m.CompletionFragmentTotal,
		m.CompletionDuration,
		m.SessionsActive,
	)

	return m
}

func (m *Metrics) RecordCreditCheck(outcome string) {
	if m == nil {
		return
	}
	m.CreditChecksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordBillingRequest(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BillingRequestsTotal.WithLabelValues(operation, status).Inc()
	m.BillingRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordFragment() {
	if m == nil {
		return
	}
	m.CompletionFragmentTotal.Inc()
}

// RecordStream records a finished completion stream. status is "ok", "error"
// or "cancelled".
func (m *Metrics) RecordStream(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CompletionStreamsTotal.WithLabelValues(status).Inc()
	m.CompletionDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}
