// Package views refreshes the materialized views derived from the rollup
// tables.
//
// The view set is closed: names are validated against queries.MaterializedViews
// before anything executes, and each member maps to fixed, fully-literal SQL.
// Refresh failures are returned as structured results instead of errors; one
// broken view never stops the refresh-all sweep.
package views

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentboard/rollupd/internal/rollupdb/connection"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
	"github.com/agentboard/rollupd/internal/rollupdb/queries"
)

// Refresher republishes the materialized views.
type Refresher struct {
	pool   *connection.ConnectionPool
	logger *slog.Logger
}

// NewRefresher creates a refresher over the given pool.
func NewRefresher(pool *connection.ConnectionPool, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{pool: pool, logger: logger}
}

// RefreshView refreshes one view by name. Unknown names fail validation
// before any SQL runs. The concurrent form requires the view to have been
// populated by a locking refresh first; it trades longer runtime for not
// blocking readers.
func (r *Refresher) RefreshView(ctx context.Context, name string, concurrent bool) models.ViewRefreshResult {
	stmts, ok := queries.MaterializedViews[queries.ViewName(name)]
	if !ok {
		r.logger.Warn("[DB] View refresh rejected: unknown view", "view", name)
		return models.ViewRefreshResult{
			Name:  name,
			Error: fmt.Sprintf("unknown view %q", name),
		}
	}

	stmt := stmts.Refresh
	if concurrent {
		stmt = stmts.RefreshConcurrent
	}

	started := time.Now()
	if err := r.exec(ctx, stmt); err != nil {
		r.logger.Error("[DB] View refresh failed",
			"view", name,
			"concurrent", concurrent,
			"error", err,
		)
		return models.ViewRefreshResult{
			Name:       name,
			Error:      err.Error(),
			DurationMS: time.Since(started).Milliseconds(),
		}
	}

	result := models.ViewRefreshResult{
		Name:       name,
		Success:    true,
		DurationMS: time.Since(started).Milliseconds(),
	}
	r.logger.Info("[DB] View refreshed",
		"view", name,
		"concurrent", concurrent,
		"duration_ms", result.DurationMS,
	)
	return result
}

// RefreshAllViews refreshes every known view in fixed order, continuing past
// failures.
func (r *Refresher) RefreshAllViews(ctx context.Context, concurrent bool) models.ViewRefreshSummary {
	results := make([]models.ViewRefreshResult, 0, len(queries.ViewOrder))
	for _, name := range queries.ViewOrder {
		results = append(results, r.RefreshView(ctx, string(name), concurrent))
	}

	summary := summarize(results)
	if summary.FailureCount > 0 {
		r.logger.Warn("[DB] View refresh sweep finished with failures",
			"total", summary.Total,
			"failed", summary.FailureCount,
		)
	} else {
		r.logger.Info("[DB] View refresh sweep complete", "total", summary.Total)
	}
	return summary
}

// CreateViewsIfMissing executes each view's bootstrap DDL: the CREATE ... IF
// NOT EXISTS and its unique index. New views are created WITH NO DATA, so the
// first refresh after bootstrap must be the locking form.
func (r *Refresher) CreateViewsIfMissing(ctx context.Context) error {
	for _, name := range queries.ViewOrder {
		stmts := queries.MaterializedViews[name]
		if err := r.exec(ctx, stmts.Create); err != nil {
			return models.ClassifyDBError("create view "+string(name), err)
		}
		if err := r.exec(ctx, stmts.CreateIndex); err != nil {
			return models.ClassifyDBError("create view index "+string(name), err)
		}
	}
	r.logger.Info("[DB] Materialized views ensured", "views", len(queries.ViewOrder))
	return nil
}

func (r *Refresher) exec(ctx context.Context, stmt string) error {
	if !r.pool.IsHealthy() {
		return models.ErrConnectionFailed
	}

	runCtx, cancel := context.WithTimeout(ctx, r.pool.QueryTimeout())
	defer cancel()

	conn, err := r.pool.Acquire(runCtx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(runCtx, stmt)
	return err
}

func summarize(results []models.ViewRefreshResult) models.ViewRefreshSummary {
	summary := models.ViewRefreshSummary{
		Total:   len(results),
		Results: results,
	}
	for _, res := range results {
		if res.Success {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
		}
	}
	return summary
}
