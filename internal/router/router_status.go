package router

import (
	"encoding/json"
	"net/http"
	"time"
)

// Status is the snapshot served at /status.
type Status struct {
	Healthy     bool           `json:"healthy"`
	Queues      map[string]int `json:"queues,omitempty"`
	Recent      []Invocation   `json:"recent,omitempty"`
	Engine      EngineStatus   `json:"engine"`
	Pool        *PoolStatus    `json:"pool,omitempty"`
	GeneratedAt string         `json:"generated_at"`
}

// Invocation mirrors the executor's recent-run record.
type Invocation struct {
	ID         string `json:"id"`
	Task       string `json:"task"`
	Queue      string `json:"queue"`
	Attempt    int    `json:"attempt"`
	State      string `json:"state"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// EngineStatus exposes the aggregation engine counters.
type EngineStatus struct {
	ExecutionRuns    uint64 `json:"execution_runs"`
	ActivityRuns     uint64 `json:"activity_runs"`
	CreditRuns       uint64 `json:"credit_runs"`
	EntitiesUpserted uint64 `json:"entities_upserted"`
	Errors           uint64 `json:"errors"`
	LastRunTime      string `json:"last_run_time,omitempty"`
}

// PoolStatus exposes the connection pool counters.
type PoolStatus struct {
	TotalConns    int32 `json:"total_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	MaxConns      int32 `json:"max_conns"`
}

func (r *Router) handleStatus(w http.ResponseWriter, req *http.Request) {
	stats := r.store.EngineStats()

	body := Status{
		Healthy: r.store.IsHealthy(),
		Engine: EngineStatus{
			ExecutionRuns:    stats.ExecutionRuns,
			ActivityRuns:     stats.ActivityRuns,
			CreditRuns:       stats.CreditRuns,
			EntitiesUpserted: stats.EntitiesUpserted,
			Errors:           stats.Errors,
		},
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if !stats.LastRunTime.IsZero() {
		body.Engine.LastRunTime = stats.LastRunTime.UTC().Format(time.RFC3339)
	}

	if r.executor != nil {
		body.Queues = r.executor.QueueDepths()
		for _, inv := range r.executor.Recent() {
			body.Recent = append(body.Recent, Invocation{
				ID:         inv.ID.String(),
				Task:       inv.Task,
				Queue:      inv.Queue,
				Attempt:    inv.Attempt,
				State:      inv.State,
				DurationMS: inv.DurationMS,
				Error:      inv.Error,
			})
		}
	}

	if st := r.store.ConnectionStats(); st != nil {
		body.Pool = &PoolStatus{
			TotalConns:    st.TotalConns(),
			AcquiredConns: st.AcquiredConns(),
			IdleConns:     st.IdleConns(),
			MaxConns:      st.MaxConns(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		if r.logger != nil {
			r.logger.Error("Failed to encode status response",
				"endpoint", "/status",
				"error", err.Error(),
			)
		}
		// Headers already sent, cannot send http.Error
		return
	}
}
