package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_executions_total",
			Help: "Total number of automation executions by template and terminal status.",
		},
		[]string{"template", "status"},
	)

	ExecutionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsdesk_execution_duration_seconds",
			Help:    "Duration of automation executions in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"template", "status"},
	)

	ExecutionsSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_executions_skipped_total",
			Help: "Total number of run attempts skipped because the execution was already claimed.",
		},
		[]string{"node_id"},
	)

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_steps_total",
			Help: "Total number of template steps by outcome.",
		},
		[]string{"template", "step", "status"},
	)

	CapabilityCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_capability_calls_total",
			Help: "Total number of capability calls by operation and error kind.",
		},
		[]string{"operation", "kind"},
	)

	TriggerFiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_trigger_fires_total",
			Help: "Total number of executions enqueued by trigger type.",
		},
		[]string{"trigger_name", "trigger_type"},
	)

	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_claims_total",
			Help: "Total number of executions successfully claimed by node.",
		},
		[]string{"node_id"},
	)

	ClaimContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_claim_contention_total",
			Help: "Total number of execution claim contention events.",
		},
		[]string{"node_id"},
	)

	PersistenceFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_persistence_failures_total",
			Help: "Total number of store writes that exhausted their retry budget.",
		},
		[]string{"operation"},
	)

	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_job_runs_total",
			Help: "Total number of periodic job runs by outcome.",
		},
		[]string{"job", "status"},
	)

	CallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsdesk_callbacks_total",
			Help: "Total number of execution callback deliveries by status.",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register registers all custom opsdesk metrics with the default Prometheus registry.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ExecutionsTotal,
			ExecutionDurationSeconds,
			ExecutionsSkippedTotal,
			StepsTotal,
			CapabilityCallsTotal,
			TriggerFiresTotal,
			ClaimsTotal,
			ClaimContentionTotal,
			PersistenceFailuresTotal,
			JobRunsTotal,
			CallbacksTotal,
		)
	})
}
