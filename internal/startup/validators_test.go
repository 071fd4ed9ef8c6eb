package startup

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentboard/rollupd/internal/rollupdb"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
)

type healthyStore struct {
	*rollupdb.NoopManager
}

func (h *healthyStore) HealthCheck(ctx context.Context) models.HealthStatus {
	return models.HealthStatus{
		Status: models.HealthHealthy,
		Checks: map[string]models.CheckResult{
			"connection":            {Healthy: true},
			"aggregation_freshness": {Healthy: true, Detail: "age 12m"},
		},
		CheckedAt: time.Now().UTC(),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidateStoreAtStartup_Healthy(t *testing.T) {
	store := &healthyStore{NoopManager: rollupdb.NewNoopManager()}

	assert.NotPanics(t, func() {
		ValidateStoreAtStartup(context.Background(), store, discardLogger())
	})
}

func TestValidateStoreAtStartup_Unhealthy(t *testing.T) {
	// The disabled store reports unhealthy with no checks; validation must
	// still complete without blocking startup.
	assert.NotPanics(t, func() {
		ValidateStoreAtStartup(context.Background(), rollupdb.NewNoopManager(), discardLogger())
	})
}
