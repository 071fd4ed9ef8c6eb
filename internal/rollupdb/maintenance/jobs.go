// Package maintenance implements retention cleanup, storage reclamation,
// index rebuilds and the health check.
//
// Cleanup is transactional and all-or-nothing. Vacuum and reindex are
// fail-soft batch jobs: they run per object, continue past individual
// failures and itemize every outcome, the same shape the view refresher
// uses.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/agentboard/rollupd/internal/rollupdb/connection"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
	"github.com/agentboard/rollupd/internal/rollupdb/queries"
)

// Jobs executes the maintenance operations.
type Jobs struct {
	pool   *connection.ConnectionPool
	config *models.Config
	logger *slog.Logger
}

// NewJobs creates the maintenance jobs over the given pool.
func NewJobs(pool *connection.ConnectionPool, cfg *models.Config, logger *slog.Logger) *Jobs {
	if cfg == nil {
		cfg = models.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{pool: pool, config: cfg, logger: logger}
}

// cleanupCutoffs returns the deletion cutoffs for one cleanup run: raw rows
// older than the retention window go, aggregate rows are kept twice as long.
func cleanupCutoffs(now time.Time, retentionDays int) (raw, aggregate time.Time) {
	return now.AddDate(0, 0, -retentionDays), now.AddDate(0, 0, -2*retentionDays)
}

// Cleanup deletes raw rows older than retentionDays and aggregate rows older
// than twice that, all inside one transaction. Per-table deleted counts are
// reported; a failure rolls everything back.
func (j *Jobs) Cleanup(ctx context.Context, retentionDays int) (models.CleanupResult, error) {
	if retentionDays < 1 {
		return models.CleanupResult{}, models.NewValidationError("retention_days",
			"retention_days must be >= 1, got %d", retentionDays)
	}

	started := time.Now()
	rawCutoff, aggregateCutoff := cleanupCutoffs(started.UTC(), retentionDays)

	result := models.CleanupResult{
		RetentionDays:   retentionDays,
		RawCutoff:       rawCutoff,
		AggregateCutoff: aggregateCutoff,
		DeletedByTable:  make(map[string]int64),
	}

	// Finalizes a failed run: the transaction rolled back, so no counts
	// survive.
	abort := func(op string, err error) (models.CleanupResult, error) {
		result.DeletedByTable = map[string]int64{}
		result.TotalDeleted = 0
		result.DurationMS = time.Since(started).Milliseconds()
		return result, models.ClassifyDBError(op, err)
	}

	if !j.pool.IsHealthy() {
		return abort("cleanup", models.ErrConnectionFailed)
	}

	runCtx, cancel := context.WithTimeout(ctx, j.pool.QueryTimeout())
	defer cancel()

	conn, err := j.pool.Acquire(runCtx)
	if err != nil {
		return abort("cleanup: acquire", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(runCtx)
	if err != nil {
		return abort("cleanup: begin", err)
	}
	defer func() {
		// No-op once committed
		_ = tx.Rollback(runCtx)
	}()

	for _, table := range queries.RawTables {
		tag, err := tx.Exec(runCtx, queries.DeleteRawOlderThan[table], rawCutoff)
		if err != nil {
			return abort("cleanup "+table, err)
		}
		result.DeletedByTable[table] = tag.RowsAffected()
		result.TotalDeleted += tag.RowsAffected()
	}

	for _, table := range queries.AggregateTables {
		tag, err := tx.Exec(runCtx, queries.DeleteAggregateOlderThan[table], aggregateCutoff)
		if err != nil {
			return abort("cleanup "+table, err)
		}
		result.DeletedByTable[table] = tag.RowsAffected()
		result.TotalDeleted += tag.RowsAffected()
	}

	if err := tx.Commit(runCtx); err != nil {
		return abort("cleanup: commit", err)
	}

	result.DurationMS = time.Since(started).Milliseconds()
	j.logger.Info("[DB] Retention cleanup complete",
		"retention_days", retentionDays,
		"raw_cutoff", rawCutoff.Format(time.RFC3339),
		"aggregate_cutoff", aggregateCutoff.Format(time.RFC3339),
		"deleted", result.TotalDeleted,
		"duration_ms", result.DurationMS,
	)
	return result, nil
}

// ReclaimStorage runs VACUUM ANALYZE on every target table, continuing past
// per-table failures. VACUUM cannot run inside a transaction, so each table
// is its own statement.
func (j *Jobs) ReclaimStorage(ctx context.Context) models.MaintenanceSummary {
	started := time.Now()
	targets := j.vacuumTargets()

	items := make([]models.MaintenanceItemResult, 0, len(targets))
	for _, table := range targets {
		items = append(items, j.vacuumTable(ctx, table))
	}

	summary := summarize("reclaim_storage", items, started)
	j.logFinished(summary)
	return summary
}

// RebuildIndexes discovers the indexes on the target tables and rebuilds
// each with REINDEX INDEX CONCURRENTLY, continuing past per-index failures.
func (j *Jobs) RebuildIndexes(ctx context.Context) models.MaintenanceSummary {
	started := time.Now()

	indexes, err := j.discoverIndexes(ctx)
	if err != nil {
		j.logger.Error("[DB] Index discovery failed", "error", err)
		return summarize("rebuild_indexes", []models.MaintenanceItemResult{{
			Object: "pg_indexes",
			Error:  err.Error(),
		}}, started)
	}

	items := make([]models.MaintenanceItemResult, 0, len(indexes))
	for _, index := range indexes {
		items = append(items, j.reindexOne(ctx, index))
	}

	summary := summarize("rebuild_indexes", items, started)
	j.logFinished(summary)
	return summary
}

// vacuumTargets returns the configured vacuum tables, or every known table
// when none are configured.
func (j *Jobs) vacuumTargets() []string {
	if len(j.config.VacuumTables) > 0 {
		return j.config.VacuumTables
	}
	targets := make([]string, 0, len(queries.RawTables)+len(queries.AggregateTables))
	targets = append(targets, queries.RawTables...)
	targets = append(targets, queries.AggregateTables...)
	return targets
}

// reindexTargets returns the configured reindex tables, or every aggregate
// table when none are configured.
func (j *Jobs) reindexTargets() []string {
	if len(j.config.ReindexTables) > 0 {
		return j.config.ReindexTables
	}
	return queries.AggregateTables
}

func (j *Jobs) vacuumTable(ctx context.Context, table string) models.MaintenanceItemResult {
	item := models.MaintenanceItemResult{Object: table}

	// Statement lookup doubles as the allow-list: configured names outside
	// the known table sets never reach SQL.
	stmt, ok := queries.VacuumStatements[table]
	if !ok {
		item.Error = fmt.Sprintf("unknown table %q", table)
		j.logger.Warn("[DB] Vacuum skipped: unknown table", "table", table)
		return item
	}

	started := time.Now()
	if err := j.exec(ctx, stmt); err != nil {
		item.Error = err.Error()
		item.DurationMS = time.Since(started).Milliseconds()
		j.logger.Error("[DB] Vacuum failed", "table", table, "error", err)
		return item
	}

	item.Success = true
	item.DurationMS = time.Since(started).Milliseconds()
	j.logger.Debug("[DB] Vacuum complete", "table", table, "duration_ms", item.DurationMS)
	return item
}

// reindexStatement builds the rebuild statement for one discovered index.
// REINDEX cannot be parameterized; the identifier is quoted.
func reindexStatement(index string) string {
	return "REINDEX INDEX CONCURRENTLY " + pgx.Identifier{index}.Sanitize()
}

func (j *Jobs) reindexOne(ctx context.Context, index string) models.MaintenanceItemResult {
	item := models.MaintenanceItemResult{Object: index}

	started := time.Now()
	if err := j.exec(ctx, reindexStatement(index)); err != nil {
		item.Error = err.Error()
		item.DurationMS = time.Since(started).Milliseconds()
		j.logger.Error("[DB] Reindex failed", "index", index, "error", err)
		return item
	}

	item.Success = true
	item.DurationMS = time.Since(started).Milliseconds()
	j.logger.Debug("[DB] Reindex complete", "index", index, "duration_ms", item.DurationMS)
	return item
}

// discoverIndexes lists the rebuildable indexes on the known target tables.
func (j *Jobs) discoverIndexes(ctx context.Context) ([]string, error) {
	tables := make([]string, 0, len(j.reindexTargets()))
	for _, table := range j.reindexTargets() {
		if queries.IsKnownTable(table) {
			tables = append(tables, table)
		} else {
			j.logger.Warn("[DB] Reindex target skipped: unknown table", "table", table)
		}
	}
	if len(tables) == 0 {
		return nil, nil
	}

	if !j.pool.IsHealthy() {
		return nil, models.ErrConnectionFailed
	}

	runCtx, cancel := context.WithTimeout(ctx, j.pool.QueryTimeout())
	defer cancel()

	conn, err := j.pool.Acquire(runCtx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(runCtx, queries.QuerySelectIndexes, tables)
	if err != nil {
		return nil, fmt.Errorf("select indexes: %w", err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan index name: %w", err)
		}
		indexes = append(indexes, name)
	}
	return indexes, rows.Err()
}

func (j *Jobs) exec(ctx context.Context, stmt string) error {
	if !j.pool.IsHealthy() {
		return models.ErrConnectionFailed
	}

	runCtx, cancel := context.WithTimeout(ctx, j.pool.QueryTimeout())
	defer cancel()

	conn, err := j.pool.Acquire(runCtx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(runCtx, stmt)
	return err
}

func (j *Jobs) logFinished(summary models.MaintenanceSummary) {
	if summary.FailureCount > 0 {
		j.logger.Warn("[DB] Maintenance finished with failures",
			"operation", summary.Operation,
			"total", summary.Total,
			"failed", summary.FailureCount,
			"duration_ms", summary.DurationMS,
		)
		return
	}
	j.logger.Info("[DB] Maintenance complete",
		"operation", summary.Operation,
		"total", summary.Total,
		"duration_ms", summary.DurationMS,
	)
}

func summarize(operation string, items []models.MaintenanceItemResult, started time.Time) models.MaintenanceSummary {
	summary := models.MaintenanceSummary{
		Operation:  operation,
		Total:      len(items),
		Items:      items,
		DurationMS: time.Since(started).Milliseconds(),
	}
	for _, item := range items {
		if item.Success {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
		}
	}
	return summary
}
