package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rivetr/controlplane/internal/runtime"
	"github.com/rivetr/controlplane/internal/store"
)

// HealthHandler reports whether the control plane's two dependencies — the
// database and the container runtime — are reachable. Generalized from the
// teacher's always-200 HealthHandler, which had nothing to check yet.
type HealthHandler struct {
	store   *store.Store
	runtime runtime.Runtime
	logger  *slog.Logger
}

func NewHealthHandler(st *store.Store, rt runtime.Runtime, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: st, runtime: rt, logger: logger}
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Health handles GET /health. Returns 200 once the database responds to a
// ping and the runtime responds to a cheap list call; 503 otherwise, so an
// orchestrator's readiness probe can tell a genuinely broken instance from
// one that simply hasn't finished starting up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("health check: database unreachable", "error", err)
		writeError(w, h.logger, http.StatusServiceUnavailable, "database unreachable")
		return
	}

	if _, err := h.runtime.ListContainers(ctx, ""); err != nil {
		h.logger.Error("health check: runtime unreachable", "error", err)
		writeError(w, h.logger, http.StatusServiceUnavailable, "container runtime unreachable")
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
