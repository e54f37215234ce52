// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	LeasingOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leasing_operations_total",
			Help: "Engine operations by outcome (OK or a business error code)",
		},
		[]string{"operation", "outcome"},
	)

	ReservationConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leasing_reservation_conflicts_total",
			Help: "Reservation attempts refused because another claim holds the unit",
		},
		[]string{"kind"},
	)

	SweepCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leasing_sweep_candidates_total",
			Help: "Background sweep candidates by result (success, failed, skipped)",
		},
		[]string{"job", "result"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leasing_sweep_duration_seconds",
			Help:    "Duration of one background sweep",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

// Outcome returns the label for an operation result.
func Outcome(ok bool, code string) string {
	if ok {
		return "OK"
	}
	if code == "" {
		return "ERROR"
	}
	return code
}
