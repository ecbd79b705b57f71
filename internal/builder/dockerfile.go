package builder

import (
	"context"
	"io"

	"github.com/rivetr/controlplane/internal/runtime"
)

// buildDockerfile invokes the daemon's native image build endpoint against
// the Dockerfile found (or pinned) at req.DockerfilePath.
func buildDockerfile(ctx context.Context, rt runtime.Runtime, req Request, logWriter io.Writer) (Result, error) {
	dockerfilePath := req.DockerfilePath
	if dockerfilePath == "" {
		dockerfilePath = "Dockerfile"
	}

	err := rt.Build(ctx, runtime.BuildSpec{
		ContextDir:     req.SourceDir,
		DockerfilePath: dockerfilePath,
		Tag:            req.ImageTag,
	}, logWriter)
	if err != nil {
		return Result{}, err
	}
	return Result{ImageTag: req.ImageTag}, nil
}
