package router

import (
	"log/slog"
	"net/http"

	"github.com/agentboard/rollupd/internal/rollupdb"
	"github.com/agentboard/rollupd/internal/scheduler"
)

// Router serves the operational HTTP surface: a health probe backed by the
// store's guarded checks and a scheduler status snapshot. The Prometheus
// handler is mounted separately by the caller.
type Router struct {
	store    rollupdb.Manager
	executor *scheduler.Executor
	logger   *slog.Logger
}

func New(store rollupdb.Manager, executor *scheduler.Executor, logger *slog.Logger) *Router {
	return &Router{
		store:    store,
		executor: executor,
		logger:   logger,
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/healthz":
		r.handleHealth(w, req)
	case "/status":
		r.handleStatus(w, req)
	default:
		http.Error(w, "Not Found", http.StatusNotFound)
	}
}
