package api

// deployments.go implements the Deployment-facing endpoints: trigger a
// deploy, fetch status, and tail logs. The actual state machine lives in
// internal/engine; this file only enqueues work and reads back what the
// engine and store have already recorded.

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/rivetr/controlplane/internal/engine"
	"github.com/rivetr/controlplane/internal/store"
)

// DeploymentHandler holds the dependencies the deployment endpoints need:
// the store to read records, the engine to enqueue new ones, and the log
// root to serve /logs from the same directory internal/engine writes to.
type DeploymentHandler struct {
	store   *store.Store
	engine  *engine.Engine
	logRoot string
	logger  *slog.Logger
}

func NewDeploymentHandler(st *store.Store, eng *engine.Engine, logRoot string, logger *slog.Logger) *DeploymentHandler {
	return &DeploymentHandler{store: st, engine: eng, logRoot: logRoot, logger: logger}
}

// Deploy handles POST /api/applications/{id}/deploy. Enqueues a deployment
// job and returns 202 with nothing else to report yet: the job has not run
// at all when this handler returns, so there is no Deployment row id to
// hand back until the engine itself creates one.
func (h *DeploymentHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "id")

	if _, err := h.store.GetApplication(applicationID); errors.Is(err, store.ErrNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "application not found")
		return
	} else if err != nil {
		h.logger.Error("failed to get application", "id", applicationID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to retrieve application")
		return
	}

	if err := h.engine.Enqueue(applicationID); err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			writeError(w, h.logger, http.StatusServiceUnavailable, "deployment queue is full, try again shortly")
			return
		}
		h.logger.Error("failed to enqueue deployment", "application_id", applicationID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to enqueue deployment")
		return
	}

	h.logger.Info("deployment enqueued", "application_id", applicationID)
	writeJSON(w, http.StatusAccepted, map[string]string{"application_id": applicationID, "status": "queued"})
}

// GetDeployment handles GET /api/deployments/{id}.
func (h *DeploymentHandler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deployment, err := h.store.GetDeployment(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "deployment not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get deployment", "id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to retrieve deployment")
		return
	}

	writeJSON(w, http.StatusOK, deployment)
}

// maxLogTail bounds how much of a deployment log GET /logs returns so a
// long-running build never forces the whole file into memory.
const maxLogTail = 256 * 1024

// GetDeploymentLogs handles GET /api/deployments/{id}/logs, returning the
// tail of the log file internal/engine writes to during the deployment.
func (h *DeploymentHandler) GetDeploymentLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.store.GetDeployment(id); errors.Is(err, store.ErrNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "deployment not found")
		return
	} else if err != nil {
		h.logger.Error("failed to get deployment", "id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to retrieve deployment")
		return
	}

	path := filepath.Join(h.logRoot, id+".log")
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		h.logger.Error("failed to open deployment log", "id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to read deployment log")
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		h.logger.Error("failed to stat deployment log", "id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to read deployment log")
		return
	}

	var start int64
	if info.Size() > maxLogTail {
		start = info.Size() - maxLogTail
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			h.logger.Error("failed to seek deployment log", "id", id, "error", err)
			writeError(w, h.logger, http.StatusInternalServerError, "failed to read deployment log")
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	reader := bufio.NewReader(file)
	if start > 0 {
		// Discard a possibly-truncated first line so the response starts
		// on a clean line boundary.
		reader.ReadString('\n')
	}
	io.Copy(w, reader) //nolint:errcheck -- nothing actionable if the client disconnects mid-stream
}
