package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_validations_total",
			Help: "Total number of static validations by outcome",
		},
		[]string{"outcome"}, // outcome: "accepted", "rejected"
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_executions_total",
			Help: "Total number of sandbox executions by terminal error type",
		},
		[]string{"error_type"},
	)

	PolicyKillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandbox_policy_kills_total",
			Help: "Total number of runtime policy kills by reason",
		},
		[]string{"reason"}, // reason: "cpu", "memory", "fork_bomb", "combined_anomaly"
	)

	OrphansReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sandbox_orphans_reaped_total",
			Help: "Total number of orphaned environments removed by the reaper",
		},
	)

	CleanupFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sandbox_cleanup_failures_total",
			Help: "Total number of environment teardown failures",
		},
	)

	ContainerCreationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandbox_container_creation_seconds",
			Help:    "Time to create and start an execution environment",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	ExecutionSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandbox_execution_seconds",
			Help:    "Wall-clock duration of sandbox executions",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	InflightExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandbox_inflight_executions",
			Help: "Number of executions currently holding an environment",
		},
	)
)
