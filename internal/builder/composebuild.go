package builder

// composebuild.go shells out to the docker compose CLI rather than
// reimplementing compose-file parsing: the daemon's own compose plugin
// already knows how to resolve build contexts, image references and
// dependency ordering declared in the file.

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/rivetr/controlplane/internal/runtime"
)

func buildDockerCompose(ctx context.Context, rt runtime.Runtime, req Request, logWriter io.Writer) (Result, error) {
	cmd := exec.CommandContext(ctx, "docker", "compose", "build")
	cmd.Dir = req.SourceDir
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("docker compose build failed: %w", err)
	}

	// Compose manages its own image tags (service-scoped, not a single
	// tag); the engine's starting step calls ComposeUp by project name
	// instead of Run()-ing a tag this Result would report.
	return Result{ImageTag: ""}, nil
}

// ComposeUp runs `docker compose up -d` against the compose file in
// sourceDir under projectName, bringing up every service the file declares
// and binding their lifecycle to that one project. The engine reuses the
// same project name across deployments of an application, so a later call
// recreates only what the file's diff requires, the same idempotent
// behavior compose's own CLI gives a human operator.
func ComposeUp(ctx context.Context, sourceDir, projectName string, logWriter io.Writer) error {
	cmd := exec.CommandContext(ctx, "docker", "compose", "-p", projectName, "up", "-d", "--remove-orphans")
	cmd.Dir = sourceDir
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker compose up failed: %w", err)
	}
	return nil
}

// ComposeDown tears down every service in projectName, used when a
// deployment that just brought the project up fails its health check.
func ComposeDown(ctx context.Context, sourceDir, projectName string, logWriter io.Writer) error {
	cmd := exec.CommandContext(ctx, "docker", "compose", "-p", projectName, "down")
	cmd.Dir = sourceDir
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker compose down failed: %w", err)
	}
	return nil
}
