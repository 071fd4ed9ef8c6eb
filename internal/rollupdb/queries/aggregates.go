package queries

import "fmt"

// Hourly aggregation statements. Each one reads raw events for a half-open
// window [$1, $2), groups by the category's entity key and upserts one row
// per key into the hourly rollup table. $3 is the run's computed_at
// watermark; the DO UPDATE guard makes upserts commutative, so a stale retry
// that finishes after a newer run cannot overwrite its values. $4 optionally
// restricts the run to a single workspace for targeted backfills.
//
// Percentiles are computed inside the database (percentile_cont); raw rows
// never cross the wire.
const (
	// QueryAggregateExecutionsHourly rolls up agent_executions by workspace
	QueryAggregateExecutionsHourly = `
		INSERT INTO execution_rollups_hourly AS t (
			workspace_id,
			bucket_start,
			total_executions,
			successful_executions,
			failed_executions,
			cancelled_executions,
			success_rate,
			avg_duration_ms,
			p50_duration_ms,
			p95_duration_ms,
			p99_duration_ms,
			credits_consumed,
			computed_at,
			created_at,
			updated_at
		)
		SELECT
			workspace_id,
			$1::timestamptz,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'completed')::double precision / COUNT(*),
			AVG(duration_ms),
			percentile_cont(0.50) WITHIN GROUP (ORDER BY duration_ms),
			percentile_cont(0.95) WITHIN GROUP (ORDER BY duration_ms),
			percentile_cont(0.99) WITHIN GROUP (ORDER BY duration_ms),
			COALESCE(SUM(credits_used), 0),
			$3::timestamptz,
			now(),
			now()
		FROM agent_executions
		WHERE created_at >= $1 AND created_at < $2
			AND ($4::text IS NULL OR workspace_id = $4)
		GROUP BY workspace_id
		ON CONFLICT (workspace_id, bucket_start) DO UPDATE SET
			total_executions = EXCLUDED.total_executions,
			successful_executions = EXCLUDED.successful_executions,
			failed_executions = EXCLUDED.failed_executions,
			cancelled_executions = EXCLUDED.cancelled_executions,
			success_rate = EXCLUDED.success_rate,
			avg_duration_ms = EXCLUDED.avg_duration_ms,
			p50_duration_ms = EXCLUDED.p50_duration_ms,
			p95_duration_ms = EXCLUDED.p95_duration_ms,
			p99_duration_ms = EXCLUDED.p99_duration_ms,
			credits_consumed = EXCLUDED.credits_consumed,
			computed_at = EXCLUDED.computed_at,
			updated_at = now()
		WHERE t.computed_at <= EXCLUDED.computed_at
	`

	// QueryAggregateUserActivityHourly rolls up user_activity_events by
	// (workspace, user)
	QueryAggregateUserActivityHourly = `
		INSERT INTO user_activity_rollups_hourly AS t (
			workspace_id,
			user_id,
			bucket_start,
			event_count,
			execution_count,
			agents_used,
			computed_at,
			created_at,
			updated_at
		)
		SELECT
			workspace_id,
			user_id,
			$1::timestamptz,
			COUNT(*),
			COUNT(*) FILTER (WHERE event_type = 'agent_execution'),
			COUNT(DISTINCT agent_id),
			$3::timestamptz,
			now(),
			now()
		FROM user_activity_events
		WHERE created_at >= $1 AND created_at < $2
			AND ($4::text IS NULL OR workspace_id = $4)
		GROUP BY workspace_id, user_id
		ON CONFLICT (workspace_id, user_id, bucket_start) DO UPDATE SET
			event_count = EXCLUDED.event_count,
			execution_count = EXCLUDED.execution_count,
			agents_used = EXCLUDED.agents_used,
			computed_at = EXCLUDED.computed_at,
			updated_at = now()
		WHERE t.computed_at <= EXCLUDED.computed_at
	`

	// QueryAggregateCreditsHourly rolls up credit_events by workspace
	QueryAggregateCreditsHourly = `
		INSERT INTO credit_rollups_hourly AS t (
			workspace_id,
			bucket_start,
			event_count,
			total_credits,
			execution_credits,
			other_credits,
			computed_at,
			created_at,
			updated_at
		)
		SELECT
			workspace_id,
			$1::timestamptz,
			COUNT(*),
			COALESCE(SUM(amount), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'execution'), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind <> 'execution'), 0),
			$3::timestamptz,
			now(),
			now()
		FROM credit_events
		WHERE created_at >= $1 AND created_at < $2
			AND ($4::text IS NULL OR workspace_id = $4)
		GROUP BY workspace_id
		ON CONFLICT (workspace_id, bucket_start) DO UPDATE SET
			event_count = EXCLUDED.event_count,
			total_credits = EXCLUDED.total_credits,
			execution_credits = EXCLUDED.execution_credits,
			other_credits = EXCLUDED.other_credits,
			computed_at = EXCLUDED.computed_at,
			updated_at = now()
		WHERE t.computed_at <= EXCLUDED.computed_at
	`
)

// Coarse rollups (daily, weekly, monthly) summarize the next-finer rollup
// table instead of re-scanning raw events. The statements are identical per
// category apart from the source and target tables, so they are assembled
// once at package init from this fixed table map; no caller-provided string
// ever reaches query text.
var (
	QueryAggregateExecutionsDaily   = buildExecutionSummary("execution_rollups_hourly", "execution_rollups_daily")
	QueryAggregateExecutionsWeekly  = buildExecutionSummary("execution_rollups_daily", "execution_rollups_weekly")
	QueryAggregateExecutionsMonthly = buildExecutionSummary("execution_rollups_daily", "execution_rollups_monthly")

	QueryAggregateUserActivityDaily   = buildActivitySummary("user_activity_rollups_hourly", "user_activity_rollups_daily")
	QueryAggregateUserActivityWeekly  = buildActivitySummary("user_activity_rollups_daily", "user_activity_rollups_weekly")
	QueryAggregateUserActivityMonthly = buildActivitySummary("user_activity_rollups_daily", "user_activity_rollups_monthly")

	QueryAggregateCreditsDaily   = buildCreditSummary("credit_rollups_hourly", "credit_rollups_daily")
	QueryAggregateCreditsWeekly  = buildCreditSummary("credit_rollups_daily", "credit_rollups_weekly")
	QueryAggregateCreditsMonthly = buildCreditSummary("credit_rollups_daily", "credit_rollups_monthly")
)

// buildExecutionSummary sums finer execution rollups into dst. Duration
// columns are totals-weighted averages of the finer buckets; exact
// percentiles cannot be recombined from pre-aggregated rows.
func buildExecutionSummary(src, dst string) string {
	return fmt.Sprintf(`
		INSERT INTO %[2]s AS t (
			workspace_id,
			bucket_start,
			total_executions,
			successful_executions,
			failed_executions,
			cancelled_executions,
			success_rate,
			avg_duration_ms,
			p50_duration_ms,
			p95_duration_ms,
			p99_duration_ms,
			credits_consumed,
			computed_at,
			created_at,
			updated_at
		)
		SELECT
			workspace_id,
			$1::timestamptz,
			SUM(total_executions),
			SUM(successful_executions),
			SUM(failed_executions),
			SUM(cancelled_executions),
			SUM(successful_executions)::double precision / NULLIF(SUM(total_executions), 0),
			SUM(avg_duration_ms * total_executions) / NULLIF(SUM(total_executions), 0),
			SUM(p50_duration_ms * total_executions) / NULLIF(SUM(total_executions), 0),
			SUM(p95_duration_ms * total_executions) / NULLIF(SUM(total_executions), 0),
			SUM(p99_duration_ms * total_executions) / NULLIF(SUM(total_executions), 0),
			SUM(credits_consumed),
			$3::timestamptz,
			now(),
			now()
		FROM %[1]s
		WHERE bucket_start >= $1 AND bucket_start < $2
			AND ($4::text IS NULL OR workspace_id = $4)
		GROUP BY workspace_id
		ON CONFLICT (workspace_id, bucket_start) DO UPDATE SET
			total_executions = EXCLUDED.total_executions,
			successful_executions = EXCLUDED.successful_executions,
			failed_executions = EXCLUDED.failed_executions,
			cancelled_executions = EXCLUDED.cancelled_executions,
			success_rate = EXCLUDED.success_rate,
			avg_duration_ms = EXCLUDED.avg_duration_ms,
			p50_duration_ms = EXCLUDED.p50_duration_ms,
			p95_duration_ms = EXCLUDED.p95_duration_ms,
			p99_duration_ms = EXCLUDED.p99_duration_ms,
			credits_consumed = EXCLUDED.credits_consumed,
			computed_at = EXCLUDED.computed_at,
			updated_at = now()
		WHERE t.computed_at <= EXCLUDED.computed_at
	`, src, dst)
}

// buildActivitySummary sums finer activity rollups into dst. agents_used is
// the max over finer buckets, a lower bound on true distinct agents.
func buildActivitySummary(src, dst string) string {
	return fmt.Sprintf(`
		INSERT INTO %[2]s AS t (
			workspace_id,
			user_id,
			bucket_start,
			event_count,
			execution_count,
			agents_used,
			computed_at,
			created_at,
			updated_at
		)
		SELECT
			workspace_id,
			user_id,
			$1::timestamptz,
			SUM(event_count),
			SUM(execution_count),
			MAX(agents_used),
			$3::timestamptz,
			now(),
			now()
		FROM %[1]s
		WHERE bucket_start >= $1 AND bucket_start < $2
			AND ($4::text IS NULL OR workspace_id = $4)
		GROUP BY workspace_id, user_id
		ON CONFLICT (workspace_id, user_id, bucket_start) DO UPDATE SET
			event_count = EXCLUDED.event_count,
			execution_count = EXCLUDED.execution_count,
			agents_used = EXCLUDED.agents_used,
			computed_at = EXCLUDED.computed_at,
			updated_at = now()
		WHERE t.computed_at <= EXCLUDED.computed_at
	`, src, dst)
}

// buildCreditSummary sums finer credit rollups into dst.
func buildCreditSummary(src, dst string) string {
	return fmt.Sprintf(`
		INSERT INTO %[2]s AS t (
			workspace_id,
			bucket_start,
			event_count,
			total_credits,
			execution_credits,
			other_credits,
			computed_at,
			created_at,
			updated_at
		)
		SELECT
			workspace_id,
			$1::timestamptz,
			SUM(event_count),
			SUM(total_credits),
			SUM(execution_credits),
			SUM(other_credits),
			$3::timestamptz,
			now(),
			now()
		FROM %[1]s
		WHERE bucket_start >= $1 AND bucket_start < $2
			AND ($4::text IS NULL OR workspace_id = $4)
		GROUP BY workspace_id
		ON CONFLICT (workspace_id, bucket_start) DO UPDATE SET
			event_count = EXCLUDED.event_count,
			total_credits = EXCLUDED.total_credits,
			execution_credits = EXCLUDED.execution_credits,
			other_credits = EXCLUDED.other_credits,
			computed_at = EXCLUDED.computed_at,
			updated_at = now()
		WHERE t.computed_at <= EXCLUDED.computed_at
	`, src, dst)
}

// Workspace summary statements join the three category rollups for one
// window into a single per-workspace row with cross-cutting fields. Unique
// users come from the activity rollups' user dimension; unique agents need
// one DB-side COUNT(DISTINCT) over raw executions because no rollup table
// carries the agent dimension. Workspaces without executions in the window
// are not summarized.
var (
	QueryUpsertWorkspaceSummaryDaily   = buildWorkspaceSummary("execution_rollups_hourly", "user_activity_rollups_hourly", "credit_rollups_hourly", "workspace_rollups_daily")
	QueryUpsertWorkspaceSummaryWeekly  = buildWorkspaceSummary("execution_rollups_daily", "user_activity_rollups_daily", "credit_rollups_daily", "workspace_rollups_weekly")
	QueryUpsertWorkspaceSummaryMonthly = buildWorkspaceSummary("execution_rollups_daily", "user_activity_rollups_daily", "credit_rollups_daily", "workspace_rollups_monthly")
)

// buildWorkspaceSummary assembles the cross-category summary upsert. The
// health score weighs success rate (70%) against an activity factor (30%,
// execution count saturating at 100), scaled to [0, 100].
func buildWorkspaceSummary(execSrc, actSrc, credSrc, dst string) string {
	return fmt.Sprintf(`
		INSERT INTO %[4]s AS t (
			workspace_id,
			bucket_start,
			unique_users,
			unique_agents,
			total_executions,
			success_rate,
			total_credits,
			health_score,
			computed_at,
			created_at,
			updated_at
		)
		SELECT
			e.workspace_id,
			$1::timestamptz,
			COALESCE(u.unique_users, 0),
			COALESCE(a.unique_agents, 0),
			e.total_executions,
			e.success_rate,
			COALESCE(c.total_credits, 0),
			ROUND((0.7 * e.success_rate + 0.3 * LEAST(e.total_executions, 100)::double precision / 100.0)::numeric * 100.0, 2),
			$3::timestamptz,
			now(),
			now()
		FROM (
			SELECT
				workspace_id,
				SUM(total_executions) AS total_executions,
				SUM(successful_executions)::double precision / NULLIF(SUM(total_executions), 0) AS success_rate
			FROM %[1]s
			WHERE bucket_start >= $1 AND bucket_start < $2
				AND ($4::text IS NULL OR workspace_id = $4)
			GROUP BY workspace_id
		) e
		LEFT JOIN (
			SELECT workspace_id, COUNT(DISTINCT user_id) AS unique_users
			FROM %[2]s
			WHERE bucket_start >= $1 AND bucket_start < $2
			GROUP BY workspace_id
		) u USING (workspace_id)
		LEFT JOIN (
			SELECT workspace_id, COUNT(DISTINCT agent_id) AS unique_agents
			FROM agent_executions
			WHERE created_at >= $1 AND created_at < $2
			GROUP BY workspace_id
		) a USING (workspace_id)
		LEFT JOIN (
			SELECT workspace_id, SUM(total_credits) AS total_credits
			FROM %[3]s
			WHERE bucket_start >= $1 AND bucket_start < $2
			GROUP BY workspace_id
		) c USING (workspace_id)
		ON CONFLICT (workspace_id, bucket_start) DO UPDATE SET
			unique_users = EXCLUDED.unique_users,
			unique_agents = EXCLUDED.unique_agents,
			total_executions = EXCLUDED.total_executions,
			success_rate = EXCLUDED.success_rate,
			total_credits = EXCLUDED.total_credits,
			health_score = EXCLUDED.health_score,
			computed_at = EXCLUDED.computed_at,
			updated_at = now()
		WHERE t.computed_at <= EXCLUDED.computed_at
	`, execSrc, actSrc, credSrc, dst)
}
