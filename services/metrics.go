package services

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HSouheill/coursemarket_backend/models"
)

// Metrics collects signup counters. A nil *Metrics records nothing.
type Metrics struct {
	events        *prometheus.CounterVec
	channelCalls  *prometheus.HistogramVec
	sessions      prometheus.Gauge
	codesIssued   *prometheus.CounterVec
	confirmations *prometheus.CounterVec
}

// NewMetrics registers the signup collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursemarket",
			Subsystem: "signup",
			Name:      "events_total",
			Help:      "Lifecycle events emitted by signup orchestrators.",
		}, []string{"type"}),
		channelCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coursemarket",
			Subsystem: "signup",
			Name:      "channel_call_duration_seconds",
			Help:      "Duration of verification channel calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "coursemarket",
			Subsystem: "signup",
			Name:      "active_sessions",
			Help:      "Signup sessions currently held in memory.",
		}),
		codesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursemarket",
			Subsystem: "verification",
			Name:      "codes_issued_total",
			Help:      "Verification codes issued by the backend.",
		}, []string{"outcome"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursemarket",
			Subsystem: "verification",
			Name:      "confirmations_total",
			Help:      "Code confirmations handled by the backend.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.events, m.channelCalls, m.sessions, m.codesIssued, m.confirmations)
	return m
}

func (m *Metrics) event(t models.EventType) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) channelCall(operation string, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.channelCalls.WithLabelValues(operation, outcome(err)).Observe(took.Seconds())
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) codeIssued(err error) {
	if m == nil {
		return
	}
	m.codesIssued.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) confirmation(err error) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCodeMismatch):
		return "mismatch"
	case errors.Is(err, ErrExpiredCode):
		return "expired"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrEmailTaken):
		return "email_taken"
	case errors.Is(err, ErrDelivery):
		return "delivery_error"
	default:
		return "error"
	}
}
