package builder

// static.go builds a static site by running its npm build script (or
// leaving a plain HTML tree untouched) inside an ephemeral Node container,
// then reports the output directory for the caller to persist. Serving
// happens with a bind-mounted static file server image, not an image this
// package produces, mirroring the teacher's split between "produce a
// directory of files" (build) and "bind-mount it into nginx" (deploy).

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rivetr/controlplane/internal/runtime"
)

const staticBuilderImage = "node:20-alpine"

func buildStatic(ctx context.Context, rt runtime.Runtime, req Request, logWriter io.Writer) (Result, error) {
	if _, err := os.Stat(filepath.Join(req.SourceDir, "package.json")); err == nil {
		err := rt.Build(ctx, runtime.BuildSpec{
			ContextDir:   req.SourceDir,
			BuilderImage: staticBuilderImage,
			Command:      "npm ci && npm run build",
			Env:          req.EnvVars,
		}, logWriter)
		if err != nil {
			return Result{}, fmt.Errorf("static site build failed: %w", err)
		}
	} else {
		fmt.Fprintln(logWriter, "no package.json found, serving source tree as-is")
	}

	detection := DetectBuildType(req.SourceDir)
	publishDir := detection.PublishDir
	if publishDir == "" || publishDir == "." {
		return Result{StaticDir: req.SourceDir}, nil
	}

	resolved := filepath.Join(req.SourceDir, publishDir)
	if _, err := os.Stat(resolved); err != nil {
		return Result{}, fmt.Errorf("publish directory %q not found after build: %w", publishDir, err)
	}
	return Result{StaticDir: resolved}, nil
}
