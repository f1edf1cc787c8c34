package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockwatch_task_runs_total",
			Help: "Total number of scheduled task runs",
		},
		[]string{"task"},
	)

	taskSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockwatch_task_skips_total",
			Help: "Total number of task runs skipped due to lock contention",
		},
		[]string{"task"},
	)

	taskErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lockwatch_task_errors_total",
			Help: "Total number of failed task runs",
		},
		[]string{"task"},
	)
)

func TaskRunInc(task string) {
	taskRuns.WithLabelValues(task).Inc()
}

func TaskSkippedInc(task string) {
	taskSkips.WithLabelValues(task).Inc()
}

func TaskErrorInc(task string) {
	taskErrors.WithLabelValues(task).Inc()
}
