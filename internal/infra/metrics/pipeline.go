package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(pipelineRunsTotal, pipelineRejectionsTotal, stageDurationSeconds, usageIncrementsTotal, usageReleasesTotal, staleRunsReapedTotal)
}

var (
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Pipeline runs that reached a terminal status, by task type and status.",
		},
		[]string{"task_type", "status"},
	)

	pipelineRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_rejections_total",
			Help: "Submissions rejected before any stage ran, by error kind.",
		},
		[]string{"kind"}, // upgrade_required, quota_exceeded, already_in_progress, ...
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Wall time of a single processor invocation.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"agent", "status"},
	)

	usageIncrementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_increments_total",
			Help: "Quota units consumed, by capability.",
		},
		[]string{"capability"},
	)

	usageReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_releases_total",
			Help: "Reserved quota units handed back after a run failed, by capability.",
		},
		[]string{"capability"},
	)

	staleRunsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_stale_runs_reaped_total",
			Help: "Subjects moved from processing to failed by the reaper.",
		},
	)
)

func IncPipelineRun(taskType, status string) {
	pipelineRunsTotal.WithLabelValues(norm(taskType), norm(status)).Inc()
}

func IncRejection(kind string) {
	pipelineRejectionsTotal.WithLabelValues(norm(kind)).Inc()
}

func ObserveStage(agent, status string, d time.Duration) {
	stageDurationSeconds.WithLabelValues(norm(agent), norm(status)).Observe(d.Seconds())
}

func IncUsage(capability string) {
	usageIncrementsTotal.WithLabelValues(norm(capability)).Inc()
}

func IncUsageReleased(capability string) {
	usageReleasesTotal.WithLabelValues(norm(capability)).Inc()
}

func AddStaleReaped(n int) {
	staleRunsReapedTotal.Add(float64(n))
}
