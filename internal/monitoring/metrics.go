package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RollupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollupd_rollup_runs_total",
			Help: "Total number of rollup runs",
		},
		[]string{"granularity", "status"},
	)

	RollupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollupd_rollup_duration_seconds",
			Help:    "Rollup run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"granularity"},
	)

	RollupEntitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollupd_rollup_entities_total",
			Help: "Total number of rollup rows written by successful runs",
		},
		[]string{"granularity"},
	)

	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollupd_task_runs_total",
			Help: "Total number of scheduled task executions by terminal state",
		},
		[]string{"task", "state"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollupd_task_duration_seconds",
			Help:    "Scheduled task execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"task"},
	)

	ViewRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollupd_view_refreshes_total",
			Help: "Total number of materialized view refreshes",
		},
		[]string{"view", "status"},
	)

	QueueDepthCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollupd_queue_depth_current",
			Help: "Current number of jobs waiting in each executor queue",
		},
		[]string{"queue"},
	)

	SchedulerLeader = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollupd_scheduler_leader",
			Help: "Leadership status of this instance (1 = leader, 0 = follower)",
		},
	)

	MaintenanceItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollupd_maintenance_items_total",
			Help: "Total number of maintenance items processed",
		},
		[]string{"operation", "status"},
	)
)

type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{
		enabled: enabled,
	}
}

func (m *Metrics) isEnabled() bool {
	return m.enabled
}

// statusLabel maps an outcome to the label value shared by all counters
func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) RecordRollupRun(granularity string, entities int64, duration time.Duration, ok bool) {
	if !m.isEnabled() {
		return
	}

	RollupRunsTotal.WithLabelValues(granularity, statusLabel(ok)).Inc()
	RollupDuration.WithLabelValues(granularity).Observe(duration.Seconds())

	if ok && entities > 0 {
		RollupEntitiesTotal.WithLabelValues(granularity).Add(float64(entities))
	}
}

func (m *Metrics) RecordTask(task, state string, duration time.Duration) {
	if !m.isEnabled() {
		return
	}

	TaskRunsTotal.WithLabelValues(task, state).Inc()
	TaskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

func (m *Metrics) RecordViewRefresh(view string, ok bool) {
	if !m.isEnabled() {
		return
	}
	ViewRefreshesTotal.WithLabelValues(view, statusLabel(ok)).Inc()
}

func (m *Metrics) UpdateQueueDepth(queue string, depth int) {
	if !m.isEnabled() {
		return
	}
	QueueDepthCurrent.WithLabelValues(queue).Set(float64(depth))
}

func (m *Metrics) UpdateLeaderStatus(leader bool) {
	if !m.isEnabled() {
		return
	}
	value := 0.0
	if leader {
		value = 1.0
	}
	SchedulerLeader.Set(value)
}

func (m *Metrics) RecordMaintenanceItem(operation string, ok bool) {
	if !m.isEnabled() {
		return
	}
	MaintenanceItemsTotal.WithLabelValues(operation, statusLabel(ok)).Inc()
}
