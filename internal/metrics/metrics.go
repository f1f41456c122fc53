// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labrunner_executions_total",
			Help: "Total number of code executions by terminal status",
		},
		[]string{"language", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "labrunner_execution_duration_seconds",
			Help:    "Wall-clock time of interpreter runs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"language"},
	)

	PolicyViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "labrunner_policy_violations_total",
			Help: "Submissions rejected by the source guard",
		},
	)

	ActiveExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "labrunner_active_executions",
			Help: "Interpreter processes currently running",
		},
	)

	GradingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "labrunner_gradings_total",
			Help: "Graded submissions by result (passed, failed)",
		},
		[]string{"result"},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "labrunner_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
