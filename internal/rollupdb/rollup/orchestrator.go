// Package rollup composes aggregation engine calls into named runs, one per
// time bucket.
//
// A run covers exactly one bucket at one granularity and executes the metric
// categories strictly in order: executions, user activity, credits. The
// first category error aborts the remaining ones; a rollup is all-or-nothing
// per window. Coarse runs (daily, weekly, monthly) additionally upsert the
// cross-category workspace summaries. Re-invoking a run with the same target
// rewrites the same rows via the same upsert keys, so retries and backfills
// never duplicate.
package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentboard/rollupd/internal/rollupdb/aggregate"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
	"github.com/agentboard/rollupd/internal/timeutil"
)

// Aggregator is the engine surface the orchestrator drives.
type Aggregator interface {
	AggregateExecutions(ctx context.Context, g timeutil.Granularity, w timeutil.Window) (int64, error)
	AggregateUserActivity(ctx context.Context, g timeutil.Granularity, w timeutil.Window) (int64, error)
	AggregateCredits(ctx context.Context, g timeutil.Granularity, w timeutil.Window) (int64, error)
	UpsertWorkspaceSummary(ctx context.Context, g timeutil.Granularity, w timeutil.Window) (int64, error)
}

var _ Aggregator = (*aggregate.Engine)(nil)

// Orchestrator drives the aggregation engine bucket by bucket.
type Orchestrator struct {
	engine Aggregator
	logger *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given engine.
func NewOrchestrator(engine Aggregator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{engine: engine, logger: logger}
}

// HourlyRollup aggregates one hourly bucket. A nil target selects the most
// recently completed hour, never the current partial one.
func (o *Orchestrator) HourlyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return o.run(ctx, timeutil.GranularityHourly, target)
}

// DailyRollup aggregates one daily bucket from the hourly rollups.
func (o *Orchestrator) DailyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return o.run(ctx, timeutil.GranularityDaily, target)
}

// WeeklyRollup aggregates one Monday-aligned weekly bucket from the daily
// rollups.
func (o *Orchestrator) WeeklyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return o.run(ctx, timeutil.GranularityWeekly, target)
}

// MonthlyRollup aggregates one calendar-month bucket from the daily rollups.
func (o *Orchestrator) MonthlyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return o.run(ctx, timeutil.GranularityMonthly, target)
}

// Rollup dispatches to the granularity's rollup. Used by the scheduler and
// the backfill sweep.
func (o *Orchestrator) Rollup(ctx context.Context, g timeutil.Granularity, target *time.Time) (models.RollupRunResult, error) {
	if !g.Valid() {
		return models.RollupRunResult{}, models.NewValidationError("granularity", "unknown granularity %q", g)
	}
	return o.run(ctx, g, target)
}

// Backfill re-aggregates every bucket covering [start, end), one rollup per
// bucket, continuing past individual window failures. Meant for historical
// repair; the per-window results are collected rather than short-circuited.
func (o *Orchestrator) Backfill(ctx context.Context, start, end time.Time, g timeutil.Granularity) (models.BackfillResult, error) {
	if !g.Valid() {
		return models.BackfillResult{}, models.NewValidationError("granularity", "unknown granularity %q", g)
	}
	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return models.BackfillResult{}, models.NewValidationError("range",
			"range end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if now := time.Now().UTC(); !start.Before(now) {
		return models.BackfillResult{}, models.NewValidationError("range",
			"range start %s is in the future", start.Format(time.RFC3339))
	}

	windows := timeutil.StepWindows(start, end, g)
	result := models.BackfillResult{
		Granularity:  g.String(),
		RangeStart:   start,
		RangeEnd:     end,
		WindowsTotal: len(windows),
		Results:      make([]models.RollupRunResult, 0, len(windows)),
	}

	o.logger.Info("[DB] Backfill started",
		"granularity", g.String(),
		"range_start", start.Format(time.RFC3339),
		"range_end", end.Format(time.RFC3339),
		"windows", len(windows),
	)

	for _, w := range windows {
		if ctx.Err() != nil {
			o.logger.Warn("[DB] Backfill cancelled",
				"granularity", g.String(),
				"completed", len(result.Results),
				"remaining", result.WindowsTotal-len(result.Results),
			)
			return result, ctx.Err()
		}

		target := w.Start
		run, err := o.run(ctx, g, &target)
		result.Results = append(result.Results, run)
		if err != nil {
			result.WindowsFailed++
			continue
		}
		result.WindowsSucceeded++
	}

	o.logger.Info("[DB] Backfill complete",
		"granularity", g.String(),
		"succeeded", result.WindowsSucceeded,
		"failed", result.WindowsFailed,
	)
	return result, nil
}

// targetWindow resolves the bucket for one run: nil target means the most
// recently completed bucket relative to now, otherwise the bucket containing
// *target.
func targetWindow(target *time.Time, g timeutil.Granularity, now time.Time) timeutil.Window {
	if target == nil {
		return timeutil.LastClosedWindow(now, g)
	}
	return timeutil.BucketWindow(target.UTC(), g)
}

func (o *Orchestrator) run(ctx context.Context, g timeutil.Granularity, target *time.Time) (models.RollupRunResult, error) {
	started := time.Now()
	w := targetWindow(target, g, started.UTC())

	result := models.RollupRunResult{
		RunID:       uuid.New(),
		Granularity: g.String(),
		WindowStart: w.Start,
		WindowEnd:   w.End,
	}

	log := o.logger.With(
		"run_id", result.RunID.String(),
		"granularity", g.String(),
		"window", w.String(),
	)
	log.Info("[DB] Rollup run started")

	steps := []struct {
		name string
		fn   func(context.Context, timeutil.Granularity, timeutil.Window) (int64, error)
		dst  *int64
	}{
		{"executions", o.engine.AggregateExecutions, &result.ExecutionEntities},
		{"user_activity", o.engine.AggregateUserActivity, &result.ActivityEntities},
		{"credits", o.engine.AggregateCredits, &result.CreditEntities},
	}

	for _, step := range steps {
		n, err := step.fn(ctx, g, w)
		if err != nil {
			return o.abort(log, result, started, step.name, err)
		}
		*step.dst = n
	}

	if g != timeutil.GranularityHourly {
		n, err := o.engine.UpsertWorkspaceSummary(ctx, g, w)
		if err != nil {
			return o.abort(log, result, started, "workspace_summary", err)
		}
		result.WorkspaceSummaries = n
	}

	result.Success = true
	result.DurationMS = time.Since(started).Milliseconds()
	result.CompletedAt = time.Now().UTC()

	log.Info("[DB] Rollup run complete",
		"execution_entities", result.ExecutionEntities,
		"activity_entities", result.ActivityEntities,
		"credit_entities", result.CreditEntities,
		"workspace_summaries", result.WorkspaceSummaries,
		"duration_ms", result.DurationMS,
	)
	return result, nil
}

// abort finalizes a failed run. Remaining categories are skipped; the error
// keeps its classification for the executor's retry decision.
func (o *Orchestrator) abort(log *slog.Logger, result models.RollupRunResult, started time.Time, step string, err error) (models.RollupRunResult, error) {
	result.Success = false
	result.Error = err.Error()
	result.DurationMS = time.Since(started).Milliseconds()
	result.CompletedAt = time.Now().UTC()

	log.Error("[DB] Rollup run aborted",
		"step", step,
		"duration_ms", result.DurationMS,
		"error", err,
	)
	return result, fmt.Errorf("%s rollup %s: %s: %w", result.Granularity, result.WindowStart.Format(time.RFC3339), step, err)
}
