package builder

// nixpacks.go and railpack.go both build by running the respective CLI
// inside an ephemeral container that itself talks to the host's Docker
// socket to produce the final image (docker-in-docker via a bind-mounted
// socket), the same approach Railway/Nixpacks documents for CI use: the
// alternative, reimplementing Nixpacks' language-plan detection in Go,
// would duplicate a tool this project explicitly chooses to shell out to.

import (
	"context"
	"fmt"
	"io"

	"github.com/rivetr/controlplane/internal/runtime"
)

const (
	nixpacksBuilderImage = "railwayapp/nixpacks:latest"
	dockerSocketPath     = "/var/run/docker.sock"
)

func buildNixpacks(ctx context.Context, rt runtime.Runtime, req Request, logWriter io.Writer) (Result, error) {
	err := rt.Build(ctx, runtime.BuildSpec{
		ContextDir:   req.SourceDir,
		BuilderImage: nixpacksBuilderImage,
		Command:      fmt.Sprintf("nixpacks build /workspace --name %s", req.ImageTag),
		Env:          req.EnvVars,
		ExtraBinds: []runtime.BindMount{
			{HostPath: dockerSocketPath, ContainerPath: dockerSocketPath, ReadOnly: false},
		},
	}, logWriter)
	if err != nil {
		return Result{}, fmt.Errorf("nixpacks build failed: %w", err)
	}
	return Result{ImageTag: req.ImageTag}, nil
}
