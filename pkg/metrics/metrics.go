// Package metrics exposes Prometheus instruments for the discovery service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts processed queue tasks by name and outcome.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "tasks_processed_total",
		Help:      "Total number of queue tasks processed",
	}, []string{"task", "outcome"})

	// TaskDuration observes task processing time by name.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "discovery",
		Name:      "task_duration_seconds",
		Help:      "Task processing duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"task"})

	// AssetsIngested counts assets whose ingestion committed.
	AssetsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "assets_ingested_total",
		Help:      "Total number of assets ingested into the graph",
	})

	// RelationsCreated counts graph edges written by type.
	RelationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "relations_created_total",
		Help:      "Total number of graph relationships merged",
	}, []string{"type"})

	// SpuriousRelationsDeleted counts edges removed by the cleanup pass.
	SpuriousRelationsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "discovery",
		Name:      "spurious_relations_deleted_total",
		Help:      "Total number of scoreless match relationships deleted",
	})
)

// RecordTask records one task outcome and its duration.
func RecordTask(task, outcome string, duration time.Duration) {
	TasksProcessed.WithLabelValues(task, outcome).Inc()
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}
