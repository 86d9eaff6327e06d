package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the backend. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// DBConnectAttempts counts physical connect attempts by outcome. Joined
	// single-flight callers do not add to it.
	DBConnectAttempts *prometheus.CounterVec

	BootstrapSteps         *prometheus.CounterVec
	RecaptchaVerifications *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		DBConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_connect_attempts_total",
				Help: "Database connect attempts by outcome",
			},
			[]string{"outcome"},
		),
		BootstrapSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bootstrap_steps_total",
				Help: "Storage bootstrap steps by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		RecaptchaVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recaptcha_verifications_total",
				Help: "reCAPTCHA verifications by outcome",
			},
			[]string{"outcome"},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.DBConnectAttempts,
		m.BootstrapSteps,
		m.RecaptchaVerifications,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) RecordConnect(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.DBConnectAttempts.WithLabelValues(outcome).Inc()
}

// RecordBootstrapStep implements storage.StepRecorder.
func (m *Metrics) RecordBootstrapStep(step, outcome string) {
	if m == nil {
		return
	}
	m.BootstrapSteps.WithLabelValues(step, outcome).Inc()
}

// RecordVerification implements recaptcha.OutcomeRecorder.
func (m *Metrics) RecordVerification(outcome string) {
	if m == nil {
		return
	}
	m.RecaptchaVerifications.WithLabelValues(outcome).Inc()
}
