package builder

import (
	"context"
	"fmt"
	"io"

	"github.com/rivetr/controlplane/internal/runtime"
)

const (
	cnbBuilderImage  = "buildpacksio/pack:latest"
	cnbDefaultBuilder = "paketobuildpacks/builder-jammy-base"
)

func buildCNB(ctx context.Context, rt runtime.Runtime, req Request, logWriter io.Writer) (Result, error) {
	command := fmt.Sprintf("pack build %s --path /workspace --builder %s --trust-builder", req.ImageTag, cnbDefaultBuilder)
	err := rt.Build(ctx, runtime.BuildSpec{
		ContextDir:   req.SourceDir,
		BuilderImage: cnbBuilderImage,
		Command:      command,
		Env:          req.EnvVars,
		ExtraBinds: []runtime.BindMount{
			{HostPath: dockerSocketPath, ContainerPath: dockerSocketPath, ReadOnly: false},
		},
	}, logWriter)
	if err != nil {
		return Result{}, fmt.Errorf("cloud native buildpacks build failed: %w", err)
	}
	return Result{ImageTag: req.ImageTag}, nil
}
