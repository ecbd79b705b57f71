package api

// applications.go implements the Application resource endpoints: create,
// list, get, delete. Validation here is limited to request shape and the
// invariants models.Application documents (DNS-safe name, port range, known
// build type); everything else (routing, container lifecycle) lives in
// internal/engine and internal/routetable, keeping this a thin translation
// layer exactly as the teacher's handlers package does.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rivetr/controlplane/internal/engine"
	"github.com/rivetr/controlplane/internal/models"
	"github.com/rivetr/controlplane/internal/routetable"
	"github.com/rivetr/controlplane/internal/runtime"
	"github.com/rivetr/controlplane/internal/secrets"
	"github.com/rivetr/controlplane/internal/store"
	"github.com/rivetr/controlplane/internal/util"
)

// ApplicationHandler holds every dependency an Application endpoint might
// touch: the store for persistence, the engine to enqueue/cancel
// deployments, the route table and runtime to tear down a deleted
// Application's live backend.
type ApplicationHandler struct {
	store               *store.Store
	engine              *engine.Engine
	table               *routetable.Table
	runtime             runtime.Runtime
	logger              *slog.Logger
	envEncryptionSecret string
	dataDir             string
}

func NewApplicationHandler(st *store.Store, eng *engine.Engine, table *routetable.Table, rt runtime.Runtime, logger *slog.Logger, envEncryptionSecret string, dataDir string) *ApplicationHandler {
	return &ApplicationHandler{
		store:               st,
		engine:              eng,
		table:               table,
		runtime:             rt,
		logger:              logger,
		envEncryptionSecret: envEncryptionSecret,
		dataDir:             dataDir,
	}
}

// createApplicationRequest is the JSON body accepted by POST /api/applications.
// Pointer fields are used only where nil-vs-empty genuinely matters
// (SSHKeyID); every other field defaults to its zero value when omitted.
type createApplicationRequest struct {
	Name                 string            `json:"name"`
	GitURL               string            `json:"git_url"`
	Branch               string            `json:"branch"`
	DockerfilePath       string            `json:"dockerfile_path"`
	BuildType            models.BuildType  `json:"build_type"`
	DockerImageRef       string            `json:"docker_image_ref"`
	EnvironmentVariables map[string]string `json:"environment_variables,omitempty"`
	Port                 int               `json:"port"`
	HealthcheckPath      string            `json:"healthcheck_path"`
	MemoryLimitMB        int64             `json:"memory_limit_mb"`
	CPULimit             float64           `json:"cpu_limit"`
	PrimaryDomain        string            `json:"primary_domain"`
	AdditionalDomains    []string          `json:"additional_domains,omitempty"`
	AutoRollback         bool              `json:"auto_rollback"`
	MaxRollbackVersions  int               `json:"max_rollback_versions"`
	SSHKeyID             *string           `json:"ssh_key_id,omitempty"`
}

// CreateApplication handles POST /api/applications.
func (h *ApplicationHandler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if !util.IsDNSLabelSafe(req.Name) {
		writeError(w, h.logger, http.StatusBadRequest, "name must be a valid DNS label (lowercase letters, digits, hyphens, 1-63 chars)")
		return
	}
	if !models.ValidBuildType(req.BuildType) {
		writeError(w, h.logger, http.StatusBadRequest, "build_type must be one of: dockerfile, nixpacks, railpack, cnb, static, docker-compose, docker-image")
		return
	}
	if req.Port < 1 || req.Port > 65535 {
		writeError(w, h.logger, http.StatusBadRequest, "port must be between 1 and 65535")
		return
	}
	if req.BuildType != models.BuildDockerImage && req.GitURL == "" {
		writeError(w, h.logger, http.StatusBadRequest, "git_url is required unless build_type is 'docker-image'")
		return
	}
	if req.BuildType == models.BuildDockerImage && req.DockerImageRef == "" {
		writeError(w, h.logger, http.StatusBadRequest, "docker_image_ref is required when build_type is 'docker-image'")
		return
	}

	if req.Branch == "" {
		req.Branch = "main"
	}
	if req.DockerfilePath == "" {
		req.DockerfilePath = "Dockerfile"
	}
	if req.MaxRollbackVersions <= 0 {
		req.MaxRollbackVersions = 3
	}

	var encodedEnv *string
	if len(req.EnvironmentVariables) > 0 {
		encrypted := make(map[string]string, len(req.EnvironmentVariables))
		for key, value := range req.EnvironmentVariables {
			cipherValue, err := secrets.EncryptIfKeyAvailable(h.envEncryptionSecret, value)
			if err != nil {
				h.logger.Error("failed to encrypt env var", "key", key, "error", err)
				writeError(w, h.logger, http.StatusInternalServerError, "failed to process environment variables")
				return
			}
			encrypted[key] = cipherValue
		}
		raw, err := json.Marshal(encrypted)
		if err != nil {
			writeError(w, h.logger, http.StatusInternalServerError, "failed to process environment variables")
			return
		}
		encodedString := string(raw)
		encodedEnv = &encodedString
	}

	app := &models.Application{
		ID:                  uuid.New().String(),
		Name:                req.Name,
		GitURL:              req.GitURL,
		Branch:              req.Branch,
		DockerfilePath:      req.DockerfilePath,
		BuildType:           req.BuildType,
		DockerImageRef:      req.DockerImageRef,
		Env:                 encodedEnv,
		Port:                req.Port,
		HealthcheckPath:     req.HealthcheckPath,
		MemoryLimitMB:       req.MemoryLimitMB,
		CPULimit:            req.CPULimit,
		PrimaryDomain:       req.PrimaryDomain,
		AdditionalDomains:   req.AdditionalDomains,
		AutoRollback:        req.AutoRollback,
		MaxRollbackVersions: req.MaxRollbackVersions,
		SSHKeyID:            req.SSHKeyID,
	}

	if err := h.store.InsertApplication(app); err != nil {
		h.logger.Error("failed to insert application", "name", req.Name, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to create application")
		return
	}

	h.logger.Info("application created", "id", app.ID, "name", app.Name, "build_type", app.BuildType)
	writeJSON(w, http.StatusCreated, app)
}

// ListApplications handles GET /api/applications.
func (h *ApplicationHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.store.ListApplications()
	if err != nil {
		h.logger.Error("failed to list applications", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to retrieve applications")
		return
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	writeJSON(w, http.StatusOK, apps)
}

// GetApplication handles GET /api/applications/{id}.
func (h *ApplicationHandler) GetApplication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	app, err := h.store.GetApplication(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get application", "id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to retrieve application")
		return
	}

	writeJSON(w, http.StatusOK, app)
}

// DeleteApplication handles DELETE /api/applications/{id}: cancels any
// in-flight deployments, stops and removes containers still serving this
// Application's domains, removes its routes, then deletes its rows.
func (h *ApplicationHandler) DeleteApplication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	app, err := h.store.GetApplication(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, h.logger, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get application", "id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to retrieve application")
		return
	}

	h.engine.CancelApplication(app.ID)

	domains := append([]string{app.PrimaryDomain}, app.AdditionalDomains...)
	for _, domain := range domains {
		if domain == "" {
			continue
		}
		if backend, ok := h.table.Lookup(domain); ok {
			if err := h.runtime.Stop(r.Context(), backend.ContainerID); err != nil {
				h.logger.Warn("failed to stop container during application delete", "application_id", app.ID, "container_id", backend.ContainerID, "error", err)
			}
			if err := h.runtime.Remove(r.Context(), backend.ContainerID); err != nil {
				h.logger.Warn("failed to remove container during application delete", "application_id", app.ID, "container_id", backend.ContainerID, "error", err)
			}
		}
		h.table.Delete(domain)
	}

	if err := h.store.DeleteApplication(app.ID); err != nil {
		h.logger.Error("failed to delete application", "id", app.ID, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to delete application")
		return
	}

	if h.dataDir != "" {
		staticDir := filepath.Join(h.dataDir, "static-sites", app.ID)
		if err := os.RemoveAll(staticDir); err != nil {
			h.logger.Warn("failed to remove persisted static site output", "application_id", app.ID, "error", err)
		}
	}

	h.logger.Info("application deleted", "id", app.ID, "name", app.Name)
	w.WriteHeader(http.StatusNoContent)
}
