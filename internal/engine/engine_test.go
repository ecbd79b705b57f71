package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rivetr/controlplane/internal/models"
	"github.com/rivetr/controlplane/internal/routetable"
	"github.com/rivetr/controlplane/internal/runtime"
	"github.com/rivetr/controlplane/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *runtime.FakeRuntime) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rt := runtime.NewFakeRuntime()
	table := routetable.New()

	e := New(st, rt, table, logger, Config{
		DataDir:       t.TempDir(),
		LogRoot:       t.TempDir(),
		ServicePrefix: "rivetr",
		DeployNetwork: "rivetr-net",
	})
	return e, rt
}

func insertTestApp(t *testing.T, e *Engine, mutate func(*models.Application)) *models.Application {
	t.Helper()
	app := &models.Application{
		ID:                  uuid.NewString(),
		Name:                "demo",
		BuildType:           models.BuildDockerImage,
		DockerImageRef:      "registry.example.com/demo:v1",
		Port:                8080,
		PrimaryDomain:       "demo.example.com",
		MaxRollbackVersions: 3,
	}
	if mutate != nil {
		mutate(app)
	}
	if err := e.store.InsertApplication(app); err != nil {
		t.Fatalf("failed to insert application: %v", err)
	}
	return app
}

func TestRunJobDeploysSuccessfully(t *testing.T) {
	e, _ := newTestEngine(t)
	app := insertTestApp(t, e, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.runJob(ctx, job{applicationID: app.ID})

	deployment, err := e.store.GetRunningDeployment(app.ID)
	if err != nil {
		t.Fatalf("expected a running deployment, got error: %v", err)
	}
	if deployment.Status != models.StatusRunning {
		t.Fatalf("got status %q, want %q", deployment.Status, models.StatusRunning)
	}

	backend, ok := e.table.Lookup(app.PrimaryDomain)
	if !ok {
		t.Fatalf("expected a route for %q after a successful deployment", app.PrimaryDomain)
	}
	if !backend.Healthy {
		t.Fatalf("expected the committed backend to be marked healthy")
	}
}

func TestSecondSuccessfulDeployMarksPriorDeploymentStopped(t *testing.T) {
	e, _ := newTestEngine(t)
	app := insertTestApp(t, e, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.runJob(ctx, job{applicationID: app.ID})
	first, err := e.store.GetRunningDeployment(app.ID)
	if err != nil {
		t.Fatalf("expected a running deployment after the first deploy, got error: %v", err)
	}

	e.runJob(ctx, job{applicationID: app.ID})
	second, err := e.store.GetRunningDeployment(app.ID)
	if err != nil {
		t.Fatalf("expected a running deployment after the second deploy, got error: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected the second deploy to produce a new deployment row")
	}

	reloadedFirst, err := e.store.GetDeployment(first.ID)
	if err != nil {
		t.Fatalf("failed to reload the first deployment: %v", err)
	}
	if reloadedFirst.Status != models.StatusStopped {
		t.Fatalf("expected the superseded deployment to be stopped, got %q", reloadedFirst.Status)
	}
}

func TestRunJobFailsWhenContainerStartFails(t *testing.T) {
	e, rt := newTestEngine(t)
	rt.FailRun = true
	app := insertTestApp(t, e, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.runJob(ctx, job{applicationID: app.ID})

	if _, err := e.store.GetRunningDeployment(app.ID); err == nil {
		t.Fatalf("expected no running deployment when the container fails to start")
	}
	if _, ok := e.table.Lookup(app.PrimaryDomain); ok {
		t.Fatalf("expected no route to be published for a failed deployment")
	}

	deployments, err := e.store.ListDeploymentsForApplication(app.ID)
	if err != nil {
		t.Fatalf("failed to list deployments: %v", err)
	}
	if len(deployments) != 1 || deployments[0].Status != models.StatusFailed {
		t.Fatalf("expected exactly one failed deployment, got %+v", deployments)
	}
}

func TestAutoRollbackDoesNotFireOnNonHealthFailure(t *testing.T) {
	e, rt := newTestEngine(t)
	rt.FailRun = true
	app := insertTestApp(t, e, func(a *models.Application) { a.AutoRollback = true })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.runJob(ctx, job{applicationID: app.ID})

	deployments, err := e.store.ListDeploymentsForApplication(app.ID)
	if err != nil {
		t.Fatalf("failed to list deployments: %v", err)
	}
	if len(deployments) != 1 {
		t.Fatalf("expected a failed container-start to never insert a rollback deployment, got %d deployments", len(deployments))
	}
}

func TestEnqueueReturnsErrQueueFullWhenSaturated(t *testing.T) {
	e, _ := newTestEngine(t)
	e.cfg.QueueCapacity = 1
	e.jobs = make(chan job, 1)

	if err := e.Enqueue("app-1"); err != nil {
		t.Fatalf("expected first enqueue to succeed, got %v", err)
	}
	if err := e.Enqueue("app-2"); err != ErrQueueFull {
		t.Fatalf("got error %v, want ErrQueueFull", err)
	}
}

func TestCancelApplicationInvokesRegisteredCancelFuncs(t *testing.T) {
	e, _ := newTestEngine(t)

	canceled := false
	_, cancel := context.WithCancel(context.Background())
	wrapped := func() {
		canceled = true
		cancel()
	}
	token := e.registerCancel("app-1", wrapped)

	e.CancelApplication("app-1")

	if !canceled {
		t.Fatalf("expected the registered cancel func to be invoked")
	}
	if _, ok := e.cancels["app-1"]; ok {
		t.Fatalf("expected the application's cancel map to be cleared")
	}
	e.unregisterCancel("app-1", token) // no-op, must not panic on an already-cleared map
}
