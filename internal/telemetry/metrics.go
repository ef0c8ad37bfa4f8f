// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeranaias/rigrun-dispatch/internal/joblog"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the dispatcher's Prometheus collectors.
type Metrics struct {
	Attempts         *prometheus.CounterVec
	AttemptDuration  *prometheus.HistogramVec
	Cost             *prometheus.CounterVec
	Tokens           *prometheus.CounterVec
	ActiveJobs       prometheus.Gauge
	BackendAvailable *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigrun_dispatch_attempts_total",
				Help: "Total number of executed dispatch attempts",
			},
			[]string{"backend", "category", "outcome"},
		),
		AttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rigrun_dispatch_attempt_duration_seconds",
				Help:    "Dispatch attempt duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend"},
		),
		Cost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigrun_dispatch_cost_total",
				Help: "Accumulated cost of successful attempts",
			},
			[]string{"backend"},
		),
		Tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigrun_dispatch_tokens_total",
				Help: "Accumulated tokens of successful attempts",
			},
			[]string{"backend"},
		),
		ActiveJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rigrun_dispatch_active_jobs",
				Help: "Number of jobs currently executing",
			},
		),
		BackendAvailable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rigrun_backend_available",
				Help: "1 if the backend is currently available, 0 otherwise",
			},
			[]string{"backend"},
		),
	}
}

// Observe implements joblog.Observer.
func (m *Metrics) Observe(r joblog.Record) {
	backend := r.BackendKey()
	outcome := OutcomeFailure
	if r.Success {
		outcome = OutcomeSuccess
	}

	m.Attempts.WithLabelValues(backend, string(r.Category), outcome).Inc()
	m.AttemptDuration.WithLabelValues(backend).Observe(r.Duration.Seconds())
	if r.Cost > 0 {
		m.Cost.WithLabelValues(backend).Add(r.Cost)
	}
	if r.Tokens > 0 {
		m.Tokens.WithLabelValues(backend).Add(float64(r.Tokens))
	}
}

// Reset implements joblog.Observer. Prometheus counters are monotonic, so
// clearing the job log leaves them untouched.
func (m *Metrics) Reset() {}

// SetBackendAvailable updates the availability gauge. Its signature matches
// registry.ChangeFunc.
func (m *Metrics) SetBackendAvailable(id string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	m.BackendAvailable.WithLabelValues(id).Set(v)
}
