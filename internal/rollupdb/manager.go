// Package rollupdb bundles the rollup subsystem behind one manager: the
// connection pool, the aggregation engine, the rollup orchestrator, the view
// refresher, the maintenance jobs and the schema migrations.
package rollupdb

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentboard/rollupd/internal/rollupdb/aggregate"
	"github.com/agentboard/rollupd/internal/rollupdb/connection"
	"github.com/agentboard/rollupd/internal/rollupdb/maintenance"
	"github.com/agentboard/rollupd/internal/rollupdb/migrate"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
	"github.com/agentboard/rollupd/internal/rollupdb/rollup"
	"github.com/agentboard/rollupd/internal/rollupdb/views"
	"github.com/agentboard/rollupd/internal/security"
	"github.com/agentboard/rollupd/internal/timeutil"
)

// Manager is the main interface for the rollupdb module
type Manager interface {
	// Rollups
	HourlyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error)
	DailyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error)
	WeeklyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error)
	MonthlyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error)
	Rollup(ctx context.Context, g timeutil.Granularity, target *time.Time) (models.RollupRunResult, error)
	Backfill(ctx context.Context, start, end time.Time, g timeutil.Granularity) (models.BackfillResult, error)

	// Materialized views
	RefreshView(ctx context.Context, name string, concurrent bool) models.ViewRefreshResult
	RefreshAllViews(ctx context.Context, concurrent bool) models.ViewRefreshSummary
	CreateViewsIfMissing(ctx context.Context) error

	// Maintenance
	Cleanup(ctx context.Context, retentionDays int) (models.CleanupResult, error)
	ReclaimStorage(ctx context.Context) models.MaintenanceSummary
	RebuildIndexes(ctx context.Context) models.MaintenanceSummary
	HealthCheck(ctx context.Context) models.HealthStatus

	// Schema
	Migrate(ctx context.Context) error
	MigrationStatus(ctx context.Context) error

	// Status
	IsEnabled() bool
	IsHealthy() bool

	// Stats
	EngineStats() models.EngineStats
	ConnectionStats() *pgxpool.Stat

	// Lifecycle
	Shutdown(ctx context.Context) error
}

// ==================== NoopManager ====================

// NoopManager is a no-op implementation when the module is disabled
type NoopManager struct{}

// NewNoopManager creates a new no-op manager
func NewNoopManager() *NoopManager {
	return &NoopManager{}
}

func (n *NoopManager) HourlyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return models.RollupRunResult{}, models.ErrManagerDisabled
}

func (n *NoopManager) DailyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return models.RollupRunResult{}, models.ErrManagerDisabled
}

func (n *NoopManager) WeeklyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return models.RollupRunResult{}, models.ErrManagerDisabled
}

func (n *NoopManager) MonthlyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return models.RollupRunResult{}, models.ErrManagerDisabled
}

func (n *NoopManager) Rollup(ctx context.Context, g timeutil.Granularity, target *time.Time) (models.RollupRunResult, error) {
	return models.RollupRunResult{}, models.ErrManagerDisabled
}

func (n *NoopManager) Backfill(ctx context.Context, start, end time.Time, g timeutil.Granularity) (models.BackfillResult, error) {
	return models.BackfillResult{}, models.ErrManagerDisabled
}

func (n *NoopManager) RefreshView(ctx context.Context, name string, concurrent bool) models.ViewRefreshResult {
	return models.ViewRefreshResult{Name: name, Error: models.ErrManagerDisabled.Error()}
}

func (n *NoopManager) RefreshAllViews(ctx context.Context, concurrent bool) models.ViewRefreshSummary {
	return models.ViewRefreshSummary{}
}

func (n *NoopManager) CreateViewsIfMissing(ctx context.Context) error {
	return models.ErrManagerDisabled
}

func (n *NoopManager) Cleanup(ctx context.Context, retentionDays int) (models.CleanupResult, error) {
	return models.CleanupResult{}, models.ErrManagerDisabled
}

func (n *NoopManager) ReclaimStorage(ctx context.Context) models.MaintenanceSummary {
	return models.MaintenanceSummary{Operation: "reclaim_storage"}
}

func (n *NoopManager) RebuildIndexes(ctx context.Context) models.MaintenanceSummary {
	return models.MaintenanceSummary{Operation: "rebuild_indexes"}
}

func (n *NoopManager) HealthCheck(ctx context.Context) models.HealthStatus {
	return models.HealthStatus{
		Status:    models.HealthUnhealthy,
		Checks:    map[string]models.CheckResult{},
		CheckedAt: time.Now().UTC(),
	}
}

func (n *NoopManager) Migrate(ctx context.Context) error {
	return models.ErrManagerDisabled
}

func (n *NoopManager) MigrationStatus(ctx context.Context) error {
	return models.ErrManagerDisabled
}

func (n *NoopManager) IsEnabled() bool {
	return false
}

func (n *NoopManager) IsHealthy() bool {
	return false
}

func (n *NoopManager) EngineStats() models.EngineStats {
	return models.EngineStats{}
}

func (n *NoopManager) ConnectionStats() *pgxpool.Stat {
	return nil
}

func (n *NoopManager) Shutdown(ctx context.Context) error {
	return nil
}

// ==================== DefaultManager ====================

// DefaultManager is the real implementation of Manager
type DefaultManager struct {
	pool         *connection.ConnectionPool
	engine       *aggregate.Engine
	orchestrator *rollup.Orchestrator
	refresher    *views.Refresher
	jobs         *maintenance.Jobs
	migrator     migrate.Runner
	config       *models.Config
	logger       *slog.Logger
}

// New creates a new Manager instance
// Returns error if database connection fails
func New(cfg *models.Config) (Manager, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := connection.NewConnectionPool(cfg)
	if err != nil {
		return nil, err
	}

	migrator, err := migrate.New(cfg.DatabaseURL, cfg.Logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	engine := aggregate.NewEngine(pool, cfg.Logger)

	m := &DefaultManager{
		pool:         pool,
		engine:       engine,
		orchestrator: rollup.NewOrchestrator(engine, cfg.Logger),
		refresher:    views.NewRefresher(pool, cfg.Logger),
		jobs:         maintenance.NewJobs(pool, cfg, cfg.Logger),
		migrator:     migrator,
		config:       cfg,
		logger:       cfg.Logger,
	}

	cfg.Logger.Info("Rollup DB manager initialized",
		"database", security.MaskDatabaseURL(cfg.DatabaseURL),
		"max_conns", cfg.MaxConns,
		"query_timeout", cfg.QueryTimeout,
	)

	return m, nil
}

func (m *DefaultManager) HourlyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return m.orchestrator.HourlyRollup(ctx, target)
}

func (m *DefaultManager) DailyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return m.orchestrator.DailyRollup(ctx, target)
}

func (m *DefaultManager) WeeklyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return m.orchestrator.WeeklyRollup(ctx, target)
}

func (m *DefaultManager) MonthlyRollup(ctx context.Context, target *time.Time) (models.RollupRunResult, error) {
	return m.orchestrator.MonthlyRollup(ctx, target)
}

func (m *DefaultManager) Rollup(ctx context.Context, g timeutil.Granularity, target *time.Time) (models.RollupRunResult, error) {
	return m.orchestrator.Rollup(ctx, g, target)
}

func (m *DefaultManager) Backfill(ctx context.Context, start, end time.Time, g timeutil.Granularity) (models.BackfillResult, error) {
	return m.orchestrator.Backfill(ctx, start, end, g)
}

func (m *DefaultManager) RefreshView(ctx context.Context, name string, concurrent bool) models.ViewRefreshResult {
	return m.refresher.RefreshView(ctx, name, concurrent)
}

func (m *DefaultManager) RefreshAllViews(ctx context.Context, concurrent bool) models.ViewRefreshSummary {
	return m.refresher.RefreshAllViews(ctx, concurrent)
}

func (m *DefaultManager) CreateViewsIfMissing(ctx context.Context) error {
	return m.refresher.CreateViewsIfMissing(ctx)
}

func (m *DefaultManager) Cleanup(ctx context.Context, retentionDays int) (models.CleanupResult, error) {
	return m.jobs.Cleanup(ctx, retentionDays)
}

func (m *DefaultManager) ReclaimStorage(ctx context.Context) models.MaintenanceSummary {
	return m.jobs.ReclaimStorage(ctx)
}

func (m *DefaultManager) RebuildIndexes(ctx context.Context) models.MaintenanceSummary {
	return m.jobs.RebuildIndexes(ctx)
}

func (m *DefaultManager) HealthCheck(ctx context.Context) models.HealthStatus {
	return m.jobs.HealthCheck(ctx)
}

func (m *DefaultManager) Migrate(ctx context.Context) error {
	return m.migrator.Ensure(ctx)
}

func (m *DefaultManager) MigrationStatus(ctx context.Context) error {
	return m.migrator.Status(ctx)
}

// IsEnabled returns true (module is enabled)
func (m *DefaultManager) IsEnabled() bool {
	return true
}

// IsHealthy returns database connection health status
func (m *DefaultManager) IsHealthy() bool {
	return m.pool.IsHealthy()
}

// EngineStats returns aggregation engine counters
func (m *DefaultManager) EngineStats() models.EngineStats {
	return m.engine.Stats()
}

// ConnectionStats returns connection pool statistics
func (m *DefaultManager) ConnectionStats() *pgxpool.Stat {
	return m.pool.Stats()
}

// Shutdown stops all components
func (m *DefaultManager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down rollup DB manager...")
	m.pool.Close()
	m.logger.Info("Rollup DB manager shutdown complete")
	return nil
}

// ==================== Compile-time interface check ====================

var _ Manager = (*DefaultManager)(nil)
var _ Manager = (*NoopManager)(nil)
