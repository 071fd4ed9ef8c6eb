package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentboard/rollupd/internal/monitoring"
	"github.com/agentboard/rollupd/internal/rollupdb"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
)

func buildDefaultTasks(t *testing.T) []TaskSpec {
	t.Helper()
	return BuildTasks(rollupdb.NewNoopManager(), monitoring.New(false), testLogger(), TaskOptions{})
}

func TestBuildTasks_DefaultSet(t *testing.T) {
	tasks := buildDefaultTasks(t)
	require.Len(t, tasks, len(TaskNames))

	names := make([]string, 0, len(tasks))
	for _, task := range tasks {
		names = append(names, task.Name)
	}
	assert.Equal(t, TaskNames, names)

	for _, task := range tasks {
		t.Run(task.Name, func(t *testing.T) {
			require.NotNil(t, task.Schedule)
			require.NotNil(t, task.Run)
			assert.GreaterOrEqual(t, task.MaxRetries, 0)
			assert.GreaterOrEqual(t, task.HardTimeLimit, task.SoftTimeLimit,
				"hard limit must not undercut the soft limit")
		})
	}
}

func TestBuildTasks_Schedules(t *testing.T) {
	tasks := buildDefaultTasks(t)
	byName := make(map[string]TaskSpec, len(tasks))
	for _, task := range tasks {
		byName[task.Name] = task
	}

	// Hourly rollup fires at five past, after the hour's raw rows land
	hourly := byName[TaskRollupHourly].Schedule.Next(utc(2026, 8, 19, 10, 30))
	assert.Equal(t, utc(2026, 8, 19, 11, 5), hourly)

	// Daily rollup fires overnight
	daily := byName[TaskRollupDaily].Schedule.Next(utc(2026, 8, 19, 10, 30))
	assert.Equal(t, utc(2026, 8, 20, 0, 10), daily)

	// Weekly rollup fires Monday
	weekly := byName[TaskRollupWeekly].Schedule.Next(utc(2026, 8, 19, 10, 30))
	assert.Equal(t, utc(2026, 8, 24, 0, 30), weekly)

	// Monthly rollup fires on the first
	monthly := byName[TaskRollupMonthly].Schedule.Next(utc(2026, 8, 19, 10, 30))
	assert.Equal(t, utc(2026, 9, 1, 1, 0), monthly)

	// View refresh and health check run within minutes
	views := byName[TaskViewsRefreshAll].Schedule.Next(utc(2026, 8, 19, 10, 31))
	assert.Equal(t, utc(2026, 8, 19, 10, 35), views)

	health := byName[TaskMaintenanceHealthCheck].Schedule.Next(utc(2026, 8, 19, 10, 31))
	assert.Equal(t, utc(2026, 8, 19, 10, 32), health)
}

func TestBuildTasks_DisabledTaskOmitted(t *testing.T) {
	tasks := BuildTasks(rollupdb.NewNoopManager(), monitoring.New(false), testLogger(), TaskOptions{
		Overrides: map[string]TaskOverride{
			TaskRollupMonthly: {Disabled: true},
		},
	})

	assert.Len(t, tasks, len(TaskNames)-1)
	for _, task := range tasks {
		assert.NotEqual(t, TaskRollupMonthly, task.Name)
	}
}

func TestBuildTasks_Overrides(t *testing.T) {
	retries := 7
	backoff := time.Second
	soft := 2 * time.Minute
	hard := 3 * time.Minute
	every := 10 * time.Minute

	tasks := BuildTasks(rollupdb.NewNoopManager(), monitoring.New(false), testLogger(), TaskOptions{
		Overrides: map[string]TaskOverride{
			TaskViewsRefreshAll: {
				MaxRetries:    &retries,
				BackoffBase:   &backoff,
				SoftTimeLimit: &soft,
				HardTimeLimit: &hard,
				Every:         &every,
			},
		},
	})

	var views TaskSpec
	for _, task := range tasks {
		if task.Name == TaskViewsRefreshAll {
			views = task
		}
	}
	require.Equal(t, TaskViewsRefreshAll, views.Name)

	assert.Equal(t, 7, views.MaxRetries)
	assert.Equal(t, time.Second, views.BackoffBase)
	assert.Equal(t, 2*time.Minute, views.SoftTimeLimit)
	assert.Equal(t, 3*time.Minute, views.HardTimeLimit)

	// The Every override replaces the schedule
	next := views.Schedule.Next(utc(2026, 8, 19, 10, 31))
	assert.Equal(t, utc(2026, 8, 19, 10, 40), next)
}

func TestBuildTasks_RunClosures(t *testing.T) {
	tasks := buildDefaultTasks(t)
	byName := make(map[string]TaskSpec, len(tasks))
	for _, task := range tasks {
		byName[task.Name] = task
	}
	ctx := context.Background()

	t.Run("rollups surface the store error", func(t *testing.T) {
		err := byName[TaskRollupHourly].Run(ctx)
		assert.ErrorIs(t, err, models.ErrManagerDisabled)
	})

	t.Run("cleanup surfaces the store error", func(t *testing.T) {
		err := byName[TaskMaintenanceCleanup].Run(ctx)
		assert.ErrorIs(t, err, models.ErrManagerDisabled)
	})

	t.Run("empty view sweep is not a failure", func(t *testing.T) {
		assert.NoError(t, byName[TaskViewsRefreshAll].Run(ctx))
	})

	t.Run("empty maintenance sweep is not a failure", func(t *testing.T) {
		assert.NoError(t, byName[TaskMaintenanceReclaimStorage].Run(ctx))
		assert.NoError(t, byName[TaskMaintenanceRebuildIndexes].Run(ctx))
	})

	t.Run("health check never errors", func(t *testing.T) {
		assert.NoError(t, byName[TaskMaintenanceHealthCheck].Run(ctx))
	})
}
