package queries

// ViewName identifies one of the known materialized views. The set is
// closed: refresh requests are validated against it and each member maps to
// its own fixed statements, so caller input never reaches query text.
type ViewName string

const (
	ViewWorkspaceDailyOverview ViewName = "mv_workspace_daily_overview"
	ViewUserEngagementDaily    ViewName = "mv_user_engagement_daily"
	ViewTopWorkspaces30d       ViewName = "mv_top_workspaces_30d"
	ViewCreditBurnMonthly      ViewName = "mv_credit_burn_monthly"
)

// ViewOrder fixes the iteration order for refresh-all sweeps.
var ViewOrder = []ViewName{
	ViewWorkspaceDailyOverview,
	ViewUserEngagementDaily,
	ViewTopWorkspaces30d,
	ViewCreditBurnMonthly,
}

// ViewStatements holds the fixed SQL for one materialized view. Create and
// CreateIndex are idempotent; the unique index is what makes the concurrent
// refresh form legal.
type ViewStatements struct {
	Create            string
	CreateIndex       string
	Refresh           string
	RefreshConcurrent string
}

// IsKnownView reports whether name is a member of the closed view set.
func IsKnownView(name string) bool {
	_, ok := MaterializedViews[ViewName(name)]
	return ok
}

// MaterializedViews maps each known view to its statements.
var MaterializedViews = map[ViewName]ViewStatements{
	ViewWorkspaceDailyOverview: {
		Create: `
			CREATE MATERIALIZED VIEW IF NOT EXISTS mv_workspace_daily_overview AS
			SELECT
				e.workspace_id,
				e.bucket_start::date AS day,
				e.total_executions,
				e.successful_executions,
				e.failed_executions,
				e.success_rate,
				e.p95_duration_ms,
				e.credits_consumed,
				w.unique_users,
				w.unique_agents,
				w.health_score
			FROM execution_rollups_daily e
			LEFT JOIN workspace_rollups_daily w
				ON w.workspace_id = e.workspace_id AND w.bucket_start = e.bucket_start
			WHERE e.bucket_start >= now() - interval '90 days'
			WITH NO DATA
		`,
		CreateIndex: `
			CREATE UNIQUE INDEX IF NOT EXISTS mv_workspace_daily_overview_pk
			ON mv_workspace_daily_overview (workspace_id, day)
		`,
		Refresh:           `REFRESH MATERIALIZED VIEW mv_workspace_daily_overview`,
		RefreshConcurrent: `REFRESH MATERIALIZED VIEW CONCURRENTLY mv_workspace_daily_overview`,
	},

	ViewUserEngagementDaily: {
		Create: `
			CREATE MATERIALIZED VIEW IF NOT EXISTS mv_user_engagement_daily AS
			SELECT
				workspace_id,
				user_id,
				bucket_start::date AS day,
				event_count,
				execution_count,
				agents_used
			FROM user_activity_rollups_daily
			WHERE bucket_start >= now() - interval '90 days'
			WITH NO DATA
		`,
		CreateIndex: `
			CREATE UNIQUE INDEX IF NOT EXISTS mv_user_engagement_daily_pk
			ON mv_user_engagement_daily (workspace_id, user_id, day)
		`,
		Refresh:           `REFRESH MATERIALIZED VIEW mv_user_engagement_daily`,
		RefreshConcurrent: `REFRESH MATERIALIZED VIEW CONCURRENTLY mv_user_engagement_daily`,
	},

	ViewTopWorkspaces30d: {
		Create: `
			CREATE MATERIALIZED VIEW IF NOT EXISTS mv_top_workspaces_30d AS
			SELECT
				workspace_id,
				SUM(total_executions) AS total_executions,
				SUM(successful_executions)::double precision / NULLIF(SUM(total_executions), 0) AS success_rate,
				SUM(credits_consumed) AS credits_consumed,
				RANK() OVER (ORDER BY SUM(total_executions) DESC) AS execution_rank
			FROM execution_rollups_daily
			WHERE bucket_start >= now() - interval '30 days'
			GROUP BY workspace_id
			WITH NO DATA
		`,
		CreateIndex: `
			CREATE UNIQUE INDEX IF NOT EXISTS mv_top_workspaces_30d_pk
			ON mv_top_workspaces_30d (workspace_id)
		`,
		Refresh:           `REFRESH MATERIALIZED VIEW mv_top_workspaces_30d`,
		RefreshConcurrent: `REFRESH MATERIALIZED VIEW CONCURRENTLY mv_top_workspaces_30d`,
	},

	ViewCreditBurnMonthly: {
		Create: `
			CREATE MATERIALIZED VIEW IF NOT EXISTS mv_credit_burn_monthly AS
			SELECT
				workspace_id,
				bucket_start::date AS month,
				event_count,
				total_credits,
				execution_credits,
				other_credits
			FROM credit_rollups_monthly
			WHERE bucket_start >= now() - interval '12 months'
			WITH NO DATA
		`,
		CreateIndex: `
			CREATE UNIQUE INDEX IF NOT EXISTS mv_credit_burn_monthly_pk
			ON mv_credit_burn_monthly (workspace_id, month)
		`,
		Refresh:           `REFRESH MATERIALIZED VIEW mv_credit_burn_monthly`,
		RefreshConcurrent: `REFRESH MATERIALIZED VIEW CONCURRENTLY mv_credit_burn_monthly`,
	},
}
