package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/agentboard/rollupd/internal/rollupdb/models"
	"github.com/agentboard/rollupd/internal/rollupdb/queries"
)

const checkTimeout = 5 * time.Second

// HealthCheck runs the guarded sub-checks and always returns a status, even
// under total failure. Each check has its own timeout and panic guard; one
// broken check never prevents the others.
func (j *Jobs) HealthCheck(ctx context.Context) models.HealthStatus {
	status := models.HealthStatus{
		Checks:    make(map[string]models.CheckResult, 3),
		CheckedAt: time.Now().UTC(),
	}

	status.Checks["store"] = j.runCheck(ctx, "store", j.checkStore)
	status.Checks["aggregation_freshness"] = j.runCheck(ctx, "aggregation_freshness", j.checkAggregationFreshness)
	status.Checks["raw_freshness"] = j.runCheck(ctx, "raw_freshness", j.checkRawFreshness)

	status.Status = deriveStatus(status.Checks)
	if status.Status == models.HealthHealthy {
		j.logger.Debug("[DB] Health check passed")
	} else {
		j.logger.Warn("[DB] Health check not healthy", "status", status.Status)
	}
	return status
}

// runCheck shields the caller from a panicking check.
func (j *Jobs) runCheck(ctx context.Context, name string, fn func(context.Context) models.CheckResult) (result models.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("[DB] Health check panicked", "check", name, "panic", r)
			result = models.CheckResult{Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return fn(ctx)
}

// deriveStatus maps sub-check outcomes onto the overall status: losing store
// connectivity is unhealthy, any other failing check only degrades.
func deriveStatus(checks map[string]models.CheckResult) string {
	store, ok := checks["store"]
	if !ok || !store.Healthy {
		return models.HealthUnhealthy
	}
	for _, check := range checks {
		if !check.Healthy {
			return models.HealthDegraded
		}
	}
	return models.HealthHealthy
}

func (j *Jobs) checkStore(ctx context.Context) models.CheckResult {
	if !j.pool.IsHealthy() {
		return models.CheckResult{Error: models.ErrConnectionFailed.Error()}
	}

	runCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var one int
	if err := j.pool.Pool().QueryRow(runCtx, queries.QueryHealthCheck).Scan(&one); err != nil {
		return models.CheckResult{Error: err.Error()}
	}
	return models.CheckResult{Healthy: true, Detail: "connectivity ok"}
}

func (j *Jobs) checkAggregationFreshness(ctx context.Context) models.CheckResult {
	newest, err := j.queryNewest(ctx, queries.QueryNewestComputedAt)
	if err != nil {
		return models.CheckResult{Error: err.Error()}
	}
	if newest == nil {
		return models.CheckResult{Detail: "no aggregations recorded yet"}
	}

	age := time.Since(*newest).Round(time.Second)
	detail := fmt.Sprintf("newest aggregation is %s old", age)
	if age > j.config.AggregationStaleAfter {
		return models.CheckResult{Detail: detail}
	}
	return models.CheckResult{Healthy: true, Detail: detail}
}

func (j *Jobs) checkRawFreshness(ctx context.Context) models.CheckResult {
	newest, err := j.queryNewest(ctx, queries.QueryNewestRawEvent)
	if err != nil {
		return models.CheckResult{Error: err.Error()}
	}
	if newest == nil {
		return models.CheckResult{Detail: "no raw events recorded yet"}
	}

	age := time.Since(*newest).Round(time.Second)
	detail := fmt.Sprintf("newest raw event is %s old", age)
	if age > j.config.RawStaleAfter {
		return models.CheckResult{Detail: detail}
	}
	return models.CheckResult{Healthy: true, Detail: detail}
}

func (j *Jobs) queryNewest(ctx context.Context, stmt string) (*time.Time, error) {
	if !j.pool.IsHealthy() {
		return nil, models.ErrConnectionFailed
	}

	runCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var newest *time.Time
	if err := j.pool.Pool().QueryRow(runCtx, stmt).Scan(&newest); err != nil {
		return nil, err
	}
	return newest, nil
}
