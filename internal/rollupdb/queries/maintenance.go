package queries

import "fmt"

// Table sets for retention and maintenance. Raw tables belong to the
// ingestion path; the only writes this system ever issues against them are
// retention deletes and vacuum. Rollup tables are owned here.
var (
	// RawTables are pruned at the configured retention window
	RawTables = []string{
		"agent_executions",
		"user_activity_events",
		"credit_events",
	}

	// AggregateTables are pruned at twice the raw retention window
	AggregateTables = []string{
		"execution_rollups_hourly",
		"execution_rollups_daily",
		"execution_rollups_weekly",
		"execution_rollups_monthly",
		"user_activity_rollups_hourly",
		"user_activity_rollups_daily",
		"user_activity_rollups_weekly",
		"user_activity_rollups_monthly",
		"credit_rollups_hourly",
		"credit_rollups_daily",
		"credit_rollups_weekly",
		"credit_rollups_monthly",
		"workspace_rollups_daily",
		"workspace_rollups_weekly",
		"workspace_rollups_monthly",
	}
)

// Retention deletes, one fixed statement per table, keyed by table name.
// Raw tables are cut on created_at, rollup tables on bucket_start. Built
// once at init from the closed table sets above.
var (
	DeleteRawOlderThan       = buildDeleteStatements(RawTables, "created_at")
	DeleteAggregateOlderThan = buildDeleteStatements(AggregateTables, "bucket_start")
)

func buildDeleteStatements(tables []string, cutoffColumn string) map[string]string {
	stmts := make(map[string]string, len(tables))
	for _, table := range tables {
		stmts[table] = fmt.Sprintf(`DELETE FROM %s WHERE %s < $1`, table, cutoffColumn)
	}
	return stmts
}

// VacuumStatements maps every known table to its fixed VACUUM ANALYZE
// statement. VACUUM cannot be parameterized and cannot run inside a
// transaction block.
var VacuumStatements = buildVacuumStatements()

func buildVacuumStatements() map[string]string {
	stmts := make(map[string]string, len(RawTables)+len(AggregateTables))
	for _, table := range append(append([]string{}, RawTables...), AggregateTables...) {
		stmts[table] = fmt.Sprintf(`VACUUM (ANALYZE) %s`, table)
	}
	return stmts
}

// IsKnownTable reports whether name is a raw or aggregate table this system
// knows. Configured maintenance table lists are validated against it before
// any statement lookup.
func IsKnownTable(name string) bool {
	_, ok := VacuumStatements[name]
	return ok
}

const (
	// QuerySelectIndexes discovers rebuildable indexes on the given tables
	QuerySelectIndexes = `
		SELECT indexname
		FROM pg_indexes
		WHERE schemaname = 'public' AND tablename = ANY($1)
		ORDER BY indexname
	`

	// QueryHealthCheck verifies basic connectivity
	QueryHealthCheck = `SELECT 1`

	// QueryNewestComputedAt finds the freshest aggregation watermark across
	// the hourly rollup tables
	QueryNewestComputedAt = `
		SELECT GREATEST(
			(SELECT MAX(computed_at) FROM execution_rollups_hourly),
			(SELECT MAX(computed_at) FROM user_activity_rollups_hourly),
			(SELECT MAX(computed_at) FROM credit_rollups_hourly)
		)
	`

	// QueryNewestRawEvent finds the freshest raw execution event
	QueryNewestRawEvent = `SELECT MAX(created_at) FROM agent_executions`
)
