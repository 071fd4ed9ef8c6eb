package startup

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentboard/rollupd/internal/rollupdb"
	"github.com/agentboard/rollupd/internal/rollupdb/models"
)

// ValidateStoreAtStartup probes the store once and logs each guarded check.
// Failures are logged as WARN but startup continues (non-blocking); the
// scheduler retries everything at runtime. This catches unmigrated schemas
// and stalled event ingestion early without failing the boot sequence.
func ValidateStoreAtStartup(ctx context.Context, mgr rollupdb.Manager, log *slog.Logger) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := mgr.HealthCheck(probeCtx)

	passedCount := 0
	failedCount := 0

	for name, check := range status.Checks {
		if check.Healthy {
			passedCount++
			log.Debug("Store check passed at startup",
				"check", name,
				"detail", check.Detail,
			)
			continue
		}

		failedCount++
		log.Warn("Store check failed at startup",
			"check", name,
			"detail", check.Detail,
			"error", check.Error,
			"recommendation", "Verify the schema is migrated and raw events are flowing. If this is expected, the health task re-checks during runtime (every 2m)",
		)
	}

	// Log summary
	log.Info("Store validation completed at startup",
		"status", status.Status,
		"passed", passedCount,
		"failed", failedCount,
	)

	// Alert if the store is fully down (critical condition at startup)
	if status.Status == models.HealthUnhealthy {
		log.Error("WARNING: Store is unhealthy at startup",
			"passed", passedCount,
			"total", len(status.Checks),
			"impact", "Rollups and view refreshes will fail until the database becomes reachable",
			"action_recommended", "Check database connectivity and run 'rollupd migrate --status' before production deployment",
		)
	}
}
