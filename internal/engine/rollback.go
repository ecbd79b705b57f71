package engine

// rollback.go implements automatic rollback: when a deployment fails its
// health check at the checking step and the application has auto-rollback enabled,
// look up the most recent Deployment that previously reached running and
// still has a retained image tag, and redeploy it without repeating the
// clone or build steps.

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rivetr/controlplane/internal/models"
	"github.com/rivetr/controlplane/internal/runtime"
)

func (e *Engine) triggerAutoRollback(ctx context.Context, app *models.Application, failed *models.Deployment) {
	target, err := e.store.GetRunningDeployment(app.ID)
	if err != nil {
		e.logger.Warn("auto-rollback skipped: no prior running deployment", "application_id", app.ID, "error", err)
		return
	}
	if target.ImageTag == nil || *target.ImageTag == "" {
		e.logger.Warn("auto-rollback skipped: prior running deployment has no retained image", "application_id", app.ID, "deployment_id", target.ID)
		return
	}

	rollback := &models.Deployment{
		ID:                       uuid.NewString(),
		ApplicationID:            app.ID,
		Status:                   models.StatusPending,
		ImageTag:                 target.ImageTag,
		IsAutoRollback:           true,
		RollbackFromDeploymentID: &failed.ID,
	}
	if err := e.store.InsertDeployment(rollback); err != nil {
		e.logger.Error("failed to insert rollback deployment row", "application_id", app.ID, "error", err)
		return
	}

	e.logger.Info("auto-rollback triggered", "application_id", app.ID, "failed_deployment_id", failed.ID, "rollback_to_deployment_id", target.ID, "image_tag", *target.ImageTag)

	// runJob cancels ctx as soon as the failed deployment returns, so the
	// rollback gets a context of its own, registered like any deployment so
	// CancelApplication still reaches it.
	rollbackCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	token := e.registerCancel(app.ID, cancel)
	go func() {
		defer e.unregisterCancel(app.ID, token)
		defer cancel()
		e.runRollback(rollbackCtx, app, rollback, target)
	}()
}

// runRollback redeploys an already-built image directly: it skips cloning
// and building entirely and goes straight to starting+checking, per the
// same state machine runDeployment drives, against the retained image tag
// instead of a freshly built one. On success, superseded (the deployment
// whose image was redeployed) is marked stopped.
func (e *Engine) runRollback(ctx context.Context, app *models.Application, deployment *models.Deployment, superseded *models.Deployment) {
	logLine := func(format string, args ...any) {
		e.logger.Info("rollback", "deployment_id", deployment.ID, "application", app.Name, "msg", fmt.Sprintf(format, args...))
	}

	fail := func(reason string, cause error) {
		logLine("FAILED: %s: %v", reason, cause)
		if err := e.store.MarkFailed(deployment.ID, reason); err != nil {
			e.logger.Error("failed to mark rollback deployment failed", "deployment_id", deployment.ID, "error", err)
		}
	}

	if err := e.store.UpdateStatus(deployment.ID, models.StatusStarting); err != nil {
		fail("failed to update status to starting", err)
		return
	}

	containerName := fmt.Sprintf("%s-%s", e.cfg.ServicePrefix, app.Name)
	_ = e.runtime.Stop(ctx, containerName)
	_ = e.runtime.Remove(ctx, containerName)

	envVars, err := decodeEnvVars(app.Env)
	if err != nil {
		fail("failed to decode environment variables", err)
		return
	}

	containerID, err := e.runtime.Run(ctx, runtime.RunSpec{
		Image:         *deployment.ImageTag,
		Name:          containerName,
		Env:           decryptedEnv(e.cfg.EnvEncryptionSecret, envVars, logLine),
		ContainerPort: app.Port,
		MemoryLimitMB: app.MemoryLimitMB,
		CPULimit:      app.CPULimit,
		Labels:        map[string]string{"rivetr.app": app.ID, "rivetr.deployment": deployment.ID, "rivetr.rollback": "true"},
		NetworkName:   e.cfg.DeployNetwork,
		Aliases:       []string{app.Name},
	})
	if err != nil {
		fail("failed to start rollback container", err)
		return
	}
	logLine("rollback container started: %s", containerID)

	info, err := e.runtime.Inspect(ctx, containerID)
	if err != nil {
		fail("failed to inspect rollback container", err)
		return
	}

	if err := e.store.UpdateStatus(deployment.ID, models.StatusChecking); err != nil {
		fail("failed to update status to checking", err)
		return
	}

	if app.HealthcheckPath != "" {
		if err := waitHealthy(ctx, info.HostPort, app.HealthcheckPath); err != nil {
			_ = e.runtime.Stop(ctx, containerID)
			_ = e.runtime.Remove(ctx, containerID)
			fail("rollback health check failed", err)
			return
		}
	}

	backend := &models.Backend{
		ContainerID:     containerID,
		Host:            "127.0.0.1",
		Port:            info.HostPort,
		Healthy:         true,
		HealthcheckPath: app.HealthcheckPath,
	}
	for _, domain := range allDomains(app) {
		e.table.Put(domain, backend)
	}

	if err := e.store.MarkRunning(deployment.ID, containerID, *deployment.ImageTag); err != nil {
		fail("failed to commit rollback deployment as running", err)
		return
	}
	if err := e.store.MarkStopped(superseded.ID); err != nil {
		logLine("warning: failed to mark superseded deployment %s stopped: %v", superseded.ID, err)
	}

	logLine("rollback running: %s", *deployment.ImageTag)
}
