package builder

import (
	"context"
	"fmt"
	"io"

	"github.com/rivetr/controlplane/internal/runtime"
)

const railpackBuilderImage = "ghcr.io/railwayapp/railpack:latest"

func buildRailpack(ctx context.Context, rt runtime.Runtime, req Request, logWriter io.Writer) (Result, error) {
	err := rt.Build(ctx, runtime.BuildSpec{
		ContextDir:   req.SourceDir,
		BuilderImage: railpackBuilderImage,
		Command:      fmt.Sprintf("railpack build /workspace -o %s", req.ImageTag),
		Env:          req.EnvVars,
		ExtraBinds: []runtime.BindMount{
			{HostPath: dockerSocketPath, ContainerPath: dockerSocketPath, ReadOnly: false},
		},
	}, logWriter)
	if err != nil {
		return Result{}, fmt.Errorf("railpack build failed: %w", err)
	}
	return Result{ImageTag: req.ImageTag}, nil
}
