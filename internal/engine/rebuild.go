package engine

// rebuild.go reconstructs the in-memory Route Table from persisted state at
// process start, per spec §3: the table is a derived projection, not the
// system of record, so a restart must repopulate it from whichever
// Deployments the store still has marked `running` rather than starting
// with an empty table and waiting for the next deploy.

import (
	"context"

	"github.com/rivetr/controlplane/internal/models"
)

// RebuildRouteTable walks every Application's running Deployment (if any),
// re-inspects its container, and republishes the resulting Backend into the
// route table exactly as runDeployment's commit step does.
func (e *Engine) RebuildRouteTable(ctx context.Context) error {
	apps, err := e.store.ListApplications()
	if err != nil {
		return err
	}

	for _, app := range apps {
		deployment, err := e.store.GetRunningDeployment(app.ID)
		if err != nil {
			continue
		}
		if deployment.ContainerID == nil || *deployment.ContainerID == "" {
			continue
		}

		info, err := e.runtime.Inspect(ctx, *deployment.ContainerID)
		if err != nil || !info.Running {
			e.logger.Warn("skipping route rebuild for stale running deployment",
				"application_id", app.ID, "deployment_id", deployment.ID, "error", err)
			continue
		}

		backend := &models.Backend{
			ContainerID:     *deployment.ContainerID,
			Host:            "127.0.0.1",
			Port:            info.HostPort,
			Healthy:         true,
			HealthcheckPath: app.HealthcheckPath,
		}
		for _, domain := range allDomains(app) {
			e.table.Put(domain, backend)
		}
		e.logger.Info("route rebuilt from persisted state", "application", app.Name, "domain", app.PrimaryDomain)
	}

	return nil
}
