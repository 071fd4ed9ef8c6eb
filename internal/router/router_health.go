package router

import (
	"encoding/json"
	"net/http"

	"github.com/agentboard/rollupd/internal/rollupdb/models"
)

// handleHealth runs the guarded health checks and reports 503 only when the
// store is unhealthy. Degraded still answers 200 so orchestrators keep the
// process alive while staleness alerts fire through metrics.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	status := r.store.HealthCheck(req.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.Status == models.HealthUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		if r.logger != nil {
			r.logger.Error("Failed to encode health response",
				"endpoint", "/healthz",
				"error", err.Error(),
			)
		}
		// Headers already sent, cannot send http.Error
		return
	}
}
