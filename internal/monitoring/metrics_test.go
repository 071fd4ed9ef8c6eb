package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	m := New(true)
	assert.NotNil(t, m)
	assert.True(t, m.enabled)

	m2 := New(false)
	assert.NotNil(t, m2)
	assert.False(t, m2.enabled)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "success", statusLabel(true))
	assert.Equal(t, "failure", statusLabel(false))
}

func TestRecordRollupRun_Enabled(t *testing.T) {
	// Reset metrics before test
	RollupRunsTotal.Reset()
	RollupDuration.Reset()
	RollupEntitiesTotal.Reset()

	m := New(true)

	// Record a successful run
	m.RecordRollupRun("hourly", 42, 350*time.Millisecond, true)

	count := testutil.CollectAndCount(RollupRunsTotal)
	assert.Greater(t, count, 0)

	entities := testutil.ToFloat64(RollupEntitiesTotal.WithLabelValues("hourly"))
	assert.Equal(t, 42.0, entities)

	// Record a failed run
	m.RecordRollupRun("hourly", 0, 120*time.Millisecond, false)

	failures := testutil.ToFloat64(RollupRunsTotal.WithLabelValues("hourly", "failure"))
	assert.Equal(t, 1.0, failures)
}

func TestRecordRollupRun_Disabled(t *testing.T) {
	m := New(false)

	// Should not panic when disabled
	m.RecordRollupRun("hourly", 42, 350*time.Millisecond, true)
	m.RecordRollupRun("daily", 0, 120*time.Millisecond, false)
}

func TestRecordRollupRun_FailureSkipsEntities(t *testing.T) {
	RollupEntitiesTotal.Reset()

	m := New(true)

	// A failed run reports entities from before the abort; they must not count
	m.RecordRollupRun("daily", 17, 200*time.Millisecond, false)

	entities := testutil.ToFloat64(RollupEntitiesTotal.WithLabelValues("daily"))
	assert.Equal(t, 0.0, entities)
}

func TestRecordRollupRun_AllGranularities(t *testing.T) {
	RollupRunsTotal.Reset()

	m := New(true)

	granularities := []string{"hourly", "daily", "weekly", "monthly"}
	for _, g := range granularities {
		m.RecordRollupRun(g, 1, 50*time.Millisecond, true)
	}

	count := testutil.CollectAndCount(RollupRunsTotal)
	assert.Greater(t, count, 0)
}

func TestRecordTask(t *testing.T) {
	TaskRunsTotal.Reset()
	TaskDuration.Reset()

	m := New(true)

	m.RecordTask("rollup.hourly", "success", 400*time.Millisecond)
	m.RecordTask("rollup.hourly", "failed_retryable", 900*time.Millisecond)
	m.RecordTask("views.refresh_all", "success", 2*time.Second)

	assert.Greater(t, testutil.CollectAndCount(TaskRunsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(TaskDuration), 0)

	retryable := testutil.ToFloat64(TaskRunsTotal.WithLabelValues("rollup.hourly", "failed_retryable"))
	assert.Equal(t, 1.0, retryable)
}

func TestRecordTask_Disabled(t *testing.T) {
	m := New(false)

	// Should not panic when disabled
	m.RecordTask("rollup.hourly", "success", 400*time.Millisecond)
	m.RecordTask("maintenance.cleanup", "failed_terminal", time.Second)
}

func TestRecordViewRefresh(t *testing.T) {
	ViewRefreshesTotal.Reset()

	m := New(true)

	m.RecordViewRefresh("mv_workspace_daily_overview", true)
	m.RecordViewRefresh("mv_workspace_daily_overview", true)
	m.RecordViewRefresh("mv_top_workspaces_30d", false)

	successes := testutil.ToFloat64(ViewRefreshesTotal.WithLabelValues("mv_workspace_daily_overview", "success"))
	assert.Equal(t, 2.0, successes)

	failures := testutil.ToFloat64(ViewRefreshesTotal.WithLabelValues("mv_top_workspaces_30d", "failure"))
	assert.Equal(t, 1.0, failures)
}

func TestUpdateQueueDepth_Values(t *testing.T) {
	QueueDepthCurrent.Reset()

	m := New(true)

	m.UpdateQueueDepth("rollups", 3)
	m.UpdateQueueDepth("views", 0)
	m.UpdateQueueDepth("rollups", 5) // Update again

	depth := testutil.ToFloat64(QueueDepthCurrent.WithLabelValues("rollups"))
	assert.Equal(t, 5.0, depth)
}

func TestUpdateQueueDepth_Disabled(t *testing.T) {
	m := New(false)

	// Should not panic when disabled
	m.UpdateQueueDepth("rollups", 3)
	m.UpdateQueueDepth("views", 7)
}

func TestUpdateLeaderStatus_Values(t *testing.T) {
	m := New(true)

	m.UpdateLeaderStatus(true)
	leaderValue := testutil.ToFloat64(SchedulerLeader)
	assert.Equal(t, 1.0, leaderValue)

	m.UpdateLeaderStatus(false)
	followerValue := testutil.ToFloat64(SchedulerLeader)
	assert.Equal(t, 0.0, followerValue)
}

func TestRecordMaintenanceItem(t *testing.T) {
	MaintenanceItemsTotal.Reset()

	m := New(true)

	m.RecordMaintenanceItem("vacuum", true)
	m.RecordMaintenanceItem("vacuum", true)
	m.RecordMaintenanceItem("reindex", false)

	vacuumed := testutil.ToFloat64(MaintenanceItemsTotal.WithLabelValues("vacuum", "success"))
	assert.Equal(t, 2.0, vacuumed)

	failed := testutil.ToFloat64(MaintenanceItemsTotal.WithLabelValues("reindex", "failure"))
	assert.Equal(t, 1.0, failed)
}

func TestMetrics_Integration(t *testing.T) {
	// Reset all metrics
	RollupRunsTotal.Reset()
	RollupDuration.Reset()
	RollupEntitiesTotal.Reset()
	TaskRunsTotal.Reset()
	ViewRefreshesTotal.Reset()
	QueueDepthCurrent.Reset()
	MaintenanceItemsTotal.Reset()

	m := New(true)

	// Simulate a scheduler cycle
	m.UpdateLeaderStatus(true)
	m.UpdateQueueDepth("rollups", 1)

	m.RecordRollupRun("hourly", 12, 300*time.Millisecond, true)
	m.RecordTask("rollup.hourly", "success", 320*time.Millisecond)

	m.RecordViewRefresh("mv_workspace_daily_overview", true)
	m.RecordTask("views.refresh_all", "success", 1200*time.Millisecond)

	m.RecordMaintenanceItem("vacuum", true)
	m.RecordTask("maintenance.reclaim_storage", "success", 4*time.Second)

	m.UpdateQueueDepth("rollups", 0)

	// Verify all metrics have been collected
	assert.Greater(t, testutil.CollectAndCount(RollupRunsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(RollupDuration), 0)
	assert.Greater(t, testutil.CollectAndCount(RollupEntitiesTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(TaskRunsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(ViewRefreshesTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(QueueDepthCurrent), 0)
	assert.Greater(t, testutil.CollectAndCount(MaintenanceItemsTotal), 0)
}

func TestMetrics_PrometheusRegistration(t *testing.T) {
	// Verify that all metrics are registered with Prometheus
	metrics := []prometheus.Collector{
		RollupRunsTotal,
		RollupDuration,
		RollupEntitiesTotal,
		TaskRunsTotal,
		TaskDuration,
		ViewRefreshesTotal,
		QueueDepthCurrent,
		SchedulerLeader,
		MaintenanceItemsTotal,
	}

	for _, metric := range metrics {
		assert.NotNil(t, metric)
	}
}
