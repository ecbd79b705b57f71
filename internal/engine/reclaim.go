package engine

// reclaim.go tears down what a successful deployment superseded: the
// container it replaced, and images beyond the application's retention
// window. Both are best-effort; a failure here is logged but never turns a
// successful deployment into a failed one.

import (
	"context"

	"github.com/rivetr/controlplane/internal/models"
)

// reclaimSuperseded stops and removes the container a newly-committed
// deployment just replaced in the route table, if any.
func (e *Engine) reclaimSuperseded(ctx context.Context, app *models.Application, previous *models.Backend) {
	if previous == nil {
		return
	}
	if err := e.runtime.Stop(ctx, previous.ContainerID); err != nil {
		e.logger.Warn("failed to stop superseded container", "application", app.Name, "container_id", previous.ContainerID, "error", err)
	}
	if err := e.runtime.Remove(ctx, previous.ContainerID); err != nil {
		e.logger.Warn("failed to remove superseded container", "application", app.Name, "container_id", previous.ContainerID, "error", err)
	}
}

// pruneOldImages keeps only the most recent max_rollback_versions successful
// deployments' images around (so auto-rollback has somewhere to go) and
// removes the rest. Deployments with no image tag (e.g. static builds,
// which have none) are skipped.
func (e *Engine) pruneOldImages(ctx context.Context, app *models.Application) {
	retain := app.MaxRollbackVersions
	if retain <= 0 {
		retain = e.cfg.MaxRollbackVersionsDefault
	}
	if retain <= 0 {
		retain = 3
	}

	deployments, err := e.store.ListDeploymentsForApplication(app.ID)
	if err != nil {
		e.logger.Warn("failed to list deployments for image pruning", "application", app.Name, "error", err)
		return
	}

	kept := 0
	for _, d := range deployments {
		if d.Status != models.StatusRunning && d.Status != models.StatusStopped {
			continue
		}
		if d.ImageTag == nil || *d.ImageTag == "" {
			continue
		}
		kept++
		if kept <= retain {
			continue
		}
		if err := e.runtime.RemoveImage(ctx, *d.ImageTag); err != nil {
			e.logger.Debug("image prune skipped (already gone or in use)", "application", app.Name, "image_tag", *d.ImageTag, "error", err)
			continue
		}
		e.logger.Info("pruned superseded image", "application", app.Name, "image_tag", *d.ImageTag, "deployment_id", d.ID)
	}
}
