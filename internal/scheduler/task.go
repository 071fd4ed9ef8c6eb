package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentboard/rollupd/internal/monitoring"
	"github.com/agentboard/rollupd/internal/rollupdb"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
)

// Task names form a closed set; the prefix before the first dot selects the
// executor queue.
const (
	TaskRollupHourly  = "rollup.hourly"
	TaskRollupDaily   = "rollup.daily"
	TaskRollupWeekly  = "rollup.weekly"
	TaskRollupMonthly = "rollup.monthly"

	TaskViewsRefreshAll = "views.refresh_all"

	TaskMaintenanceCleanup        = "maintenance.cleanup"
	TaskMaintenanceReclaimStorage = "maintenance.reclaim_storage"
	TaskMaintenanceRebuildIndexes = "maintenance.rebuild_indexes"
	TaskMaintenanceHealthCheck    = "maintenance.health_check"
)

// TaskNames lists every built-in task in registry order.
var TaskNames = []string{
	TaskRollupHourly,
	TaskRollupDaily,
	TaskRollupWeekly,
	TaskRollupMonthly,
	TaskViewsRefreshAll,
	TaskMaintenanceCleanup,
	TaskMaintenanceReclaimStorage,
	TaskMaintenanceRebuildIndexes,
	TaskMaintenanceHealthCheck,
}

// TaskSpec declares one recurring task: when it fires, how often it retries
// and how long a single invocation may run.
type TaskSpec struct {
	Name          string
	Schedule      Schedule
	MaxRetries    int
	BackoffBase   time.Duration
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration

	// Run performs one invocation. It must honor ctx cancellation; the
	// executor derives the soft time limit from it.
	Run func(ctx context.Context) error
}

// TaskOverride adjusts one task's defaults from configuration. Nil fields
// keep the default; Every replaces the schedule with a plain interval.
type TaskOverride struct {
	MaxRetries    *int
	BackoffBase   *time.Duration
	SoftTimeLimit *time.Duration
	HardTimeLimit *time.Duration
	Every         *time.Duration
	Disabled      bool
}

// TaskOptions tune the built-in task set.
type TaskOptions struct {
	// RetentionDays feeds the cleanup task. Zero keeps the store default.
	RetentionDays int

	// ConcurrentRefresh selects non-locking view refreshes. Requires the
	// views to have been populated once.
	ConcurrentRefresh bool

	// Overrides are keyed by task name.
	Overrides map[string]TaskOverride
}

// BuildTasks assembles the recurring task set wired to mgr. Disabled tasks
// are omitted; the remaining specs carry their overrides applied.
func BuildTasks(mgr rollupdb.Manager, metrics *monitoring.Metrics, logger *slog.Logger, opts TaskOptions) []TaskSpec {
	if metrics == nil {
		metrics = monitoring.New(false)
	}
	if logger == nil {
		logger = slog.Default()
	}
	retention := opts.RetentionDays
	if retention <= 0 {
		retention = models.DefaultRetentionDays
	}

	specs := []TaskSpec{
		{
			Name:          TaskRollupHourly,
			Schedule:      Every{Interval: time.Hour, Offset: 5 * time.Minute},
			MaxRetries:    5,
			BackoffBase:   30 * time.Second,
			SoftTimeLimit: 5 * time.Minute,
			HardTimeLimit: 10 * time.Minute,
			Run:           rollupRun("hourly", mgr.HourlyRollup, metrics),
		},
		{
			Name:          TaskRollupDaily,
			Schedule:      DailyAt{Hour: 0, Minute: 10},
			MaxRetries:    3,
			BackoffBase:   time.Minute,
			SoftTimeLimit: 15 * time.Minute,
			HardTimeLimit: 30 * time.Minute,
			Run:           rollupRun("daily", mgr.DailyRollup, metrics),
		},
		{
			Name:          TaskRollupWeekly,
			Schedule:      WeeklyAt{Weekday: time.Monday, Hour: 0, Minute: 30},
			MaxRetries:    3,
			BackoffBase:   2 * time.Minute,
			SoftTimeLimit: 20 * time.Minute,
			HardTimeLimit: 40 * time.Minute,
			Run:           rollupRun("weekly", mgr.WeeklyRollup, metrics),
		},
		{
			Name:          TaskRollupMonthly,
			Schedule:      MonthlyAt{Day: 1, Hour: 1, Minute: 0},
			MaxRetries:    3,
			BackoffBase:   5 * time.Minute,
			SoftTimeLimit: 30 * time.Minute,
			HardTimeLimit: time.Hour,
			Run:           rollupRun("monthly", mgr.MonthlyRollup, metrics),
		},
		{
			Name:          TaskViewsRefreshAll,
			Schedule:      Every{Interval: 5 * time.Minute},
			MaxRetries:    2,
			BackoffBase:   15 * time.Second,
			SoftTimeLimit: 4 * time.Minute,
			HardTimeLimit: 8 * time.Minute,
			Run: func(ctx context.Context) error {
				summary := mgr.RefreshAllViews(ctx, opts.ConcurrentRefresh)
				for _, r := range summary.Results {
					metrics.RecordViewRefresh(r.Name, r.Success)
				}
				// Partial failure is itemized, not fatal; only a sweep
				// with zero successes is worth a retry.
				if summary.Total > 0 && summary.SuccessCount == 0 {
					return fmt.Errorf("all %d view refreshes failed", summary.Total)
				}
				return nil
			},
		},
		{
			Name:          TaskMaintenanceCleanup,
			Schedule:      DailyAt{Hour: 2, Minute: 0},
			MaxRetries:    2,
			BackoffBase:   time.Minute,
			SoftTimeLimit: 30 * time.Minute,
			HardTimeLimit: time.Hour,
			Run: func(ctx context.Context) error {
				result, err := mgr.Cleanup(ctx, retention)
				if err != nil {
					return err
				}
				metrics.RecordMaintenanceItem("cleanup", true)
				logger.Info("Retention cleanup task finished",
					"deleted", result.TotalDeleted,
					"retention_days", result.RetentionDays,
				)
				return nil
			},
		},
		{
			Name:          TaskMaintenanceReclaimStorage,
			Schedule:      WeeklyAt{Weekday: time.Sunday, Hour: 3, Minute: 0},
			MaxRetries:    1,
			BackoffBase:   5 * time.Minute,
			SoftTimeLimit: time.Hour,
			HardTimeLimit: 2 * time.Hour,
			Run:           batchRun("vacuum", mgr.ReclaimStorage, metrics),
		},
		{
			Name:          TaskMaintenanceRebuildIndexes,
			Schedule:      WeeklyAt{Weekday: time.Sunday, Hour: 4, Minute: 0},
			MaxRetries:    1,
			BackoffBase:   5 * time.Minute,
			SoftTimeLimit: time.Hour,
			HardTimeLimit: 2 * time.Hour,
			Run:           batchRun("reindex", mgr.RebuildIndexes, metrics),
		},
		{
			Name:          TaskMaintenanceHealthCheck,
			Schedule:      Every{Interval: 2 * time.Minute},
			MaxRetries:    0,
			BackoffBase:   0,
			SoftTimeLimit: 30 * time.Second,
			HardTimeLimit: time.Minute,
			Run: func(ctx context.Context) error {
				status := mgr.HealthCheck(ctx)
				if status.Status != models.HealthHealthy {
					logger.Warn("Health check reported problems", "status", status.Status)
				}
				return nil
			},
		},
	}

	out := make([]TaskSpec, 0, len(specs))
	for _, spec := range specs {
		override, ok := opts.Overrides[spec.Name]
		if ok {
			if override.Disabled {
				continue
			}
			spec = applyOverride(spec, override)
		}
		out = append(out, spec)
	}
	return out
}

// rollupRun wraps one granularity's orchestration for the executor. The
// scheduled path always targets the last closed window.
func rollupRun(
	granularity string,
	fn func(ctx context.Context, target *time.Time) (models.RollupRunResult, error),
	metrics *monitoring.Metrics,
) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		started := time.Now()
		result, err := fn(ctx, nil)
		metrics.RecordRollupRun(granularity, result.TotalEntities(), time.Since(started), err == nil)
		return err
	}
}

// batchRun wraps a fail-soft maintenance sweep. Items are counted
// individually; the task itself fails only when nothing succeeded.
func batchRun(
	operation string,
	fn func(ctx context.Context) models.MaintenanceSummary,
	metrics *monitoring.Metrics,
) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		summary := fn(ctx)
		for _, item := range summary.Items {
			metrics.RecordMaintenanceItem(operation, item.Success)
		}
		if summary.Total > 0 && summary.SuccessCount == 0 {
			return fmt.Errorf("%s failed for all %d objects", operation, summary.Total)
		}
		return nil
	}
}

func applyOverride(spec TaskSpec, o TaskOverride) TaskSpec {
	if o.MaxRetries != nil {
		spec.MaxRetries = *o.MaxRetries
	}
	if o.BackoffBase != nil {
		spec.BackoffBase = *o.BackoffBase
	}
	if o.SoftTimeLimit != nil {
		spec.SoftTimeLimit = *o.SoftTimeLimit
	}
	if o.HardTimeLimit != nil {
		spec.HardTimeLimit = *o.HardTimeLimit
	}
	if o.Every != nil && *o.Every > 0 {
		spec.Schedule = Every{Interval: *o.Every}
	}
	return spec
}
