package jobs

import "github.com/prometheus/client_golang/prometheus"

var (
	jobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peakshift",
		Name:      "job_runs_total",
		Help:      "Job runs by job and result (ok, error, locked, lease_error).",
	}, []string{"job", "result"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "peakshift",
		Name:      "job_duration_seconds",
		Help:      "Duration of job runs that held the lease.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	deviceWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peakshift",
		Name:      "device_writes_total",
		Help:      "Backup reserve writes by source and result (accepted, rejected, error).",
	}, []string{"source", "result"})

	historyRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "peakshift",
		Name:      "execution_history_total",
		Help:      "Execution history rows written by job type and status.",
	}, []string{"job_type", "status"})
)

func init() {
	prometheus.MustRegister(jobRuns, jobDuration, deviceWrites, historyRows)
}

func writeResult(accepted bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case !accepted:
		return "rejected"
	default:
		return "accepted"
	}
}
