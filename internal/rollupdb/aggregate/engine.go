// Package aggregate implements per-category window aggregation into the
// rollup tables.
//
// Each call aggregates one metric category (executions, user activity,
// credits) for one half-open window [Start, End) at one granularity, with a
// single INSERT ... SELECT ... ON CONFLICT statement. All grouping,
// percentile math and upserting happens inside PostgreSQL; raw rows never
// cross the wire. The computed_at guard on every upsert makes re-runs
// commutative: a stale retry that lands after a newer run cannot overwrite
// its values.
package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentboard/rollupd/internal/rollupdb/connection"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
	"github.com/agentboard/rollupd/internal/rollupdb/queries"
	"github.com/agentboard/rollupd/internal/timeutil"
)

// category binds a metric category to its fixed statement per granularity.
// The maps are closed at compile time; no caller input selects query text.
type category struct {
	name       string
	statements map[timeutil.Granularity]string
}

var (
	categoryExecutions = category{
		name: "executions",
		statements: map[timeutil.Granularity]string{
			timeutil.GranularityHourly:  queries.QueryAggregateExecutionsHourly,
			timeutil.GranularityDaily:   queries.QueryAggregateExecutionsDaily,
			timeutil.GranularityWeekly:  queries.QueryAggregateExecutionsWeekly,
			timeutil.GranularityMonthly: queries.QueryAggregateExecutionsMonthly,
		},
	}

	categoryUserActivity = category{
		name: "user_activity",
		statements: map[timeutil.Granularity]string{
			timeutil.GranularityHourly:  queries.QueryAggregateUserActivityHourly,
			timeutil.GranularityDaily:   queries.QueryAggregateUserActivityDaily,
			timeutil.GranularityWeekly:  queries.QueryAggregateUserActivityWeekly,
			timeutil.GranularityMonthly: queries.QueryAggregateUserActivityMonthly,
		},
	}

	categoryCredits = category{
		name: "credits",
		statements: map[timeutil.Granularity]string{
			timeutil.GranularityHourly:  queries.QueryAggregateCreditsHourly,
			timeutil.GranularityDaily:   queries.QueryAggregateCreditsDaily,
			timeutil.GranularityWeekly:  queries.QueryAggregateCreditsWeekly,
			timeutil.GranularityMonthly: queries.QueryAggregateCreditsMonthly,
		},
	}
)

// counters is shared between an Engine and its ForWorkspace views.
type counters struct {
	executionRuns    uint64
	activityRuns     uint64
	creditRuns       uint64
	entitiesUpserted uint64
	errors           uint64

	mu          sync.RWMutex
	lastRunTime time.Time
}

// Engine executes window aggregations against the connection pool.
type Engine struct {
	pool   *connection.ConnectionPool
	logger *slog.Logger

	// Optional workspace filter, nil = all workspaces
	workspace *string

	stats *counters
}

// NewEngine creates an aggregation engine over the given pool.
func NewEngine(pool *connection.ConnectionPool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		pool:   pool,
		logger: logger,
		stats:  &counters{},
	}
}

// ForWorkspace returns a view of the engine restricted to a single
// workspace. Used by targeted backfills; counters are shared with the
// parent engine.
func (e *Engine) ForWorkspace(id string) *Engine {
	return &Engine{
		pool:      e.pool,
		logger:    e.logger.With("workspace_id", id),
		workspace: &id,
		stats:     e.stats,
	}
}

// AggregateExecutions rolls up agent executions for the window at the given
// granularity. Returns the number of entity keys written; 0 means the window
// had no activity (no rows are written for silent entities).
func (e *Engine) AggregateExecutions(ctx context.Context, g timeutil.Granularity, w timeutil.Window) (int64, error) {
	return e.run(ctx, categoryExecutions, g, w, &e.stats.executionRuns)
}

// AggregateUserActivity rolls up user activity events for the window,
// keyed by (workspace, user).
func (e *Engine) AggregateUserActivity(ctx context.Context, g timeutil.Granularity, w timeutil.Window) (int64, error) {
	return e.run(ctx, categoryUserActivity, g, w, &e.stats.activityRuns)
}

// AggregateCredits rolls up credit events for the window.
func (e *Engine) AggregateCredits(ctx context.Context, g timeutil.Granularity, w timeutil.Window) (int64, error) {
	return e.run(ctx, categoryCredits, g, w, &e.stats.creditRuns)
}

// UpsertWorkspaceSummary computes the cross-category workspace summary for a
// coarse window: unique users from the activity rollups, unique agents via a
// single DB-side COUNT(DISTINCT) over raw executions, execution and credit
// totals from the finer rollups, and a composite health score. Hourly has no
// summary table and is rejected.
func (e *Engine) UpsertWorkspaceSummary(ctx context.Context, g timeutil.Granularity, w timeutil.Window) (int64, error) {
	var stmt string
	switch g {
	case timeutil.GranularityDaily:
		stmt = queries.QueryUpsertWorkspaceSummaryDaily
	case timeutil.GranularityWeekly:
		stmt = queries.QueryUpsertWorkspaceSummaryWeekly
	case timeutil.GranularityMonthly:
		stmt = queries.QueryUpsertWorkspaceSummaryMonthly
	default:
		return 0, models.NewValidationError("granularity", "no workspace summary at granularity %q", g)
	}
	return e.exec(ctx, "workspace_summary", g, w, stmt)
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() models.EngineStats {
	e.stats.mu.RLock()
	last := e.stats.lastRunTime
	e.stats.mu.RUnlock()

	return models.EngineStats{
		ExecutionRuns:    atomic.LoadUint64(&e.stats.executionRuns),
		ActivityRuns:     atomic.LoadUint64(&e.stats.activityRuns),
		CreditRuns:       atomic.LoadUint64(&e.stats.creditRuns),
		EntitiesUpserted: atomic.LoadUint64(&e.stats.entitiesUpserted),
		Errors:           atomic.LoadUint64(&e.stats.errors),
		LastRunTime:      last,
	}
}

// run validates the call, executes the category's statement and updates the
// per-category counter.
func (e *Engine) run(ctx context.Context, cat category, g timeutil.Granularity, w timeutil.Window, runs *uint64) (int64, error) {
	stmt, ok := cat.statements[g]
	if !ok {
		return 0, models.NewValidationError("granularity", "unknown granularity %q", g)
	}

	n, err := e.exec(ctx, cat.name, g, w, stmt)
	if err != nil {
		return 0, err
	}

	atomic.AddUint64(runs, 1)
	return n, nil
}

// exec runs one aggregation statement with the shared parameter convention:
// $1 window start (= bucket_start), $2 window end, $3 computed_at watermark,
// $4 optional workspace filter.
func (e *Engine) exec(ctx context.Context, name string, g timeutil.Granularity, w timeutil.Window, stmt string) (int64, error) {
	if err := w.Validate(); err != nil {
		return 0, models.NewValidationError("window", "%v", err)
	}
	if !w.IsClosed(time.Now().UTC()) {
		return 0, models.NewValidationError("window", "window %s is still open", w)
	}

	if !e.pool.IsHealthy() {
		atomic.AddUint64(&e.stats.errors, 1)
		return 0, models.ClassifyDBError("aggregate "+name, models.ErrConnectionFailed)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.pool.QueryTimeout())
	defer cancel()

	conn, err := e.pool.Acquire(runCtx)
	if err != nil {
		atomic.AddUint64(&e.stats.errors, 1)
		return 0, models.ClassifyDBError("aggregate "+name+": acquire", err)
	}
	defer conn.Release()

	computedAt := time.Now().UTC()
	tag, err := conn.Exec(runCtx, stmt, w.Start, w.End, computedAt, e.workspace)
	if err != nil {
		atomic.AddUint64(&e.stats.errors, 1)
		return 0, models.ClassifyDBError("aggregate "+name, err)
	}

	entities := tag.RowsAffected()
	atomic.AddUint64(&e.stats.entitiesUpserted, uint64(entities))

	e.stats.mu.Lock()
	e.stats.lastRunTime = computedAt
	e.stats.mu.Unlock()

	e.logger.Debug("[DB] Aggregation window written",
		"category", name,
		"granularity", g.String(),
		"window", w.String(),
		"entities", entities,
	)

	return entities, nil
}
