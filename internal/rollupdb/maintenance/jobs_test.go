package maintenance

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentboard/rollupd/internal/rollupdb/models"
	"github.com/agentboard/rollupd/internal/rollupdb/queries"
)

func newTestJobs(cfg *models.Config) *Jobs {
	return NewJobs(nil, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewJobs_NilConfigGetsDefaults(t *testing.T) {
	j := newTestJobs(nil)
	require.NotNil(t, j.config)
	assert.Equal(t, 2*time.Hour, j.config.AggregationStaleAfter)
}

func TestCleanup_RejectsInvalidRetention(t *testing.T) {
	j := newTestJobs(nil)

	for _, days := range []int{0, -1, -30} {
		result, err := j.Cleanup(context.Background(), days)
		require.Error(t, err)
		assert.True(t, models.IsValidation(err))
		assert.Zero(t, result.TotalDeleted)
	}
}

func TestCleanupCutoffs(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	raw, aggregate := cleanupCutoffs(now, 30)
	assert.Equal(t, time.Date(2026, 7, 21, 12, 0, 0, 0, time.UTC), raw)
	assert.Equal(t, time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC), aggregate)

	// Aggregate retention is always twice the raw window.
	raw, aggregate = cleanupCutoffs(now, 7)
	assert.Equal(t, now.AddDate(0, 0, -7), raw)
	assert.Equal(t, now.AddDate(0, 0, -14), aggregate)
	assert.True(t, aggregate.Before(raw))
}

func TestVacuumTargets(t *testing.T) {
	t.Run("default is every known table", func(t *testing.T) {
		j := newTestJobs(nil)
		targets := j.vacuumTargets()
		assert.Len(t, targets, len(queries.RawTables)+len(queries.AggregateTables))
		for _, table := range targets {
			assert.True(t, queries.IsKnownTable(table))
		}
	})

	t.Run("configured list wins", func(t *testing.T) {
		j := newTestJobs(&models.Config{VacuumTables: []string{"credit_rollups_hourly"}})
		assert.Equal(t, []string{"credit_rollups_hourly"}, j.vacuumTargets())
	})
}

func TestReindexTargets(t *testing.T) {
	t.Run("default is the aggregate tables", func(t *testing.T) {
		j := newTestJobs(nil)
		assert.Equal(t, queries.AggregateTables, j.reindexTargets())
	})

	t.Run("configured list wins", func(t *testing.T) {
		j := newTestJobs(&models.Config{ReindexTables: []string{"workspace_rollups_daily"}})
		assert.Equal(t, []string{"workspace_rollups_daily"}, j.reindexTargets())
	})
}

func TestVacuumTable_UnknownTableNeverReachesSQL(t *testing.T) {
	// Nil pool: an execution attempt would panic, so the lookup must reject
	// first.
	j := newTestJobs(nil)

	for _, table := range []string{"users", "", "agent_executions; DROP TABLE credit_events;--"} {
		item := j.vacuumTable(context.Background(), table)
		assert.False(t, item.Success)
		assert.Contains(t, item.Error, "unknown table")
		assert.Equal(t, table, item.Object)
	}
}

func TestReindexStatement_QuotesIdentifier(t *testing.T) {
	assert.Equal(t, `REINDEX INDEX CONCURRENTLY "execution_rollups_hourly_bucket_idx"`,
		reindexStatement("execution_rollups_hourly_bucket_idx"))

	// Embedded quotes are doubled, so a hostile pg_indexes row cannot break
	// out of the identifier.
	assert.Equal(t, `REINDEX INDEX CONCURRENTLY "weird""name"`, reindexStatement(`weird"name`))
}

func TestSummarize(t *testing.T) {
	started := time.Now()
	items := []models.MaintenanceItemResult{
		{Object: "a", Success: true},
		{Object: "b", Error: "relation does not exist"},
		{Object: "c", Success: true},
	}

	summary := summarize("reclaim_storage", items, started)
	assert.Equal(t, "reclaim_storage", summary.Operation)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailureCount)
	assert.Len(t, summary.Items, 3)
	assert.GreaterOrEqual(t, summary.DurationMS, int64(0))
}

func TestDeriveStatus(t *testing.T) {
	healthy := models.CheckResult{Healthy: true}
	failing := models.CheckResult{Error: "timeout"}

	tests := []struct {
		name   string
		checks map[string]models.CheckResult
		want   string
	}{
		{
			"all healthy",
			map[string]models.CheckResult{"store": healthy, "aggregation_freshness": healthy, "raw_freshness": healthy},
			models.HealthHealthy,
		},
		{
			"store down is unhealthy",
			map[string]models.CheckResult{"store": failing, "aggregation_freshness": healthy, "raw_freshness": healthy},
			models.HealthUnhealthy,
		},
		{
			"stale aggregation only degrades",
			map[string]models.CheckResult{"store": healthy, "aggregation_freshness": failing, "raw_freshness": healthy},
			models.HealthDegraded,
		},
		{
			"stale raw only degrades",
			map[string]models.CheckResult{"store": healthy, "aggregation_freshness": healthy, "raw_freshness": failing},
			models.HealthDegraded,
		},
		{
			"missing store check is unhealthy",
			map[string]models.CheckResult{"aggregation_freshness": healthy},
			models.HealthUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveStatus(tt.checks))
		})
	}
}

func TestRunCheck_RecoversPanic(t *testing.T) {
	j := newTestJobs(nil)

	result := j.runCheck(context.Background(), "exploding", func(context.Context) models.CheckResult {
		panic("boom")
	})

	assert.False(t, result.Healthy)
	assert.Contains(t, result.Error, "panic")
	assert.Contains(t, result.Error, "boom")
}

func TestHealthCheck_SurvivesTotalFailure(t *testing.T) {
	// With no pool at all, every sub-check blows up; the status must still
	// come back fully populated.
	j := newTestJobs(nil)

	status := j.HealthCheck(context.Background())

	assert.Equal(t, models.HealthUnhealthy, status.Status)
	assert.Len(t, status.Checks, 3)
	assert.Contains(t, status.Checks, "store")
	assert.Contains(t, status.Checks, "aggregation_freshness")
	assert.Contains(t, status.Checks, "raw_freshness")
	assert.False(t, status.CheckedAt.IsZero())
	for name, check := range status.Checks {
		assert.False(t, check.Healthy, "check %s cannot pass without a store", name)
		assert.NotEmpty(t, check.Error)
	}
}
