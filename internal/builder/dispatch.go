package builder

import (
	"context"
	"fmt"
	"io"

	"github.com/rivetr/controlplane/internal/models"
	"github.com/rivetr/controlplane/internal/runtime"
)

// Request describes one build attempt: a source tree already cloned onto
// disk, plus enough of the owning Application/Deployment to name the
// resulting image and pass through configured env vars.
type Request struct {
	SourceDir      string
	ImageTag       string
	DockerfilePath string
	EnvVars        []string

	// RemoteImageRef is the pull reference for BuildDockerImage; every other
	// build type ignores it.
	RemoteImageRef string
}

// Result reports what the build produced. At most one of ImageTag or
// StaticDir is set, matching how internal/engine decides what Run() call to
// issue next: an image tag is run directly, a StaticDir is bind-mounted
// read-only into a static file server. A docker-compose build sets neither;
// the engine brings that project up by name instead.
type Result struct {
	ImageTag  string
	StaticDir string
}

// Dispatch runs the build strategy for buildType against req, using rt for
// any container operations the strategy needs (pulling builder images,
// running ephemeral build containers, or invoking the daemon's native image
// build endpoint).
func Dispatch(ctx context.Context, rt runtime.Runtime, buildType models.BuildType, req Request, logWriter io.Writer) (Result, error) {
	switch buildType {
	case models.BuildDockerfile:
		return buildDockerfile(ctx, rt, req, logWriter)
	case models.BuildNixpacks:
		return buildNixpacks(ctx, rt, req, logWriter)
	case models.BuildRailpack:
		return buildRailpack(ctx, rt, req, logWriter)
	case models.BuildCNB:
		return buildCNB(ctx, rt, req, logWriter)
	case models.BuildStatic:
		return buildStatic(ctx, rt, req, logWriter)
	case models.BuildDockerCompose:
		return buildDockerCompose(ctx, rt, req, logWriter)
	case models.BuildDockerImage:
		if req.RemoteImageRef == "" {
			return Result{}, fmt.Errorf("docker-image build type requires a remote image reference")
		}
		if err := rt.PullImage(ctx, req.RemoteImageRef); err != nil {
			return Result{}, fmt.Errorf("failed to pull %q: %w", req.RemoteImageRef, err)
		}
		return Result{ImageTag: req.RemoteImageRef}, nil
	default:
		return Result{}, fmt.Errorf("unsupported build type %q", buildType)
	}
}
