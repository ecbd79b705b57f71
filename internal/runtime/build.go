package runtime

// build.go implements the dockerfile build type by tarring a build context
// and submitting it to the daemon's own image build endpoint. The
// nixpacks, railpack, cnb and static builders in internal/builder also call
// Build, with Command set, which DockerRuntime.Build routes to the
// ephemeral build-container path in docker.go instead.

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/build"
	dockersdk "github.com/docker/docker/client"
)

func buildDockerfileImage(ctx context.Context, sdk *dockersdk.Client, spec BuildSpec, logWriter io.Writer) error {
	contextArchive, err := tarDirectory(spec.ContextDir)
	if err != nil {
		return fmt.Errorf("failed to tar build context %q: %w", spec.ContextDir, err)
	}

	dockerfilePath := spec.DockerfilePath
	if dockerfilePath == "" {
		dockerfilePath = "Dockerfile"
	}

	resp, err := sdk.ImageBuild(ctx, contextArchive, build.ImageBuildOptions{
		Dockerfile: dockerfilePath,
		Tags:       []string{spec.Tag},
		BuildArgs:  stringPtrMap(spec.BuildArgs),
		Target:     spec.Target,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to start image build for %q: %w", spec.Tag, err)
	}
	defer resp.Body.Close()

	if err := streamBuildOutput(resp.Body, logWriter); err != nil {
		return fmt.Errorf("image build for %q failed: %w", spec.Tag, err)
	}
	return nil
}

// streamBuildOutput copies the newline-delimited JSON progress stream the
// daemon emits during a build into logWriter as plain text, and surfaces any
// `error` field in the stream as a Go error: the build HTTP request itself
// succeeds even when the build fails, so errors only show up inside the
// stream body.
func streamBuildOutput(body io.Reader, logWriter io.Writer) error {
	decoder := json.NewDecoder(body)
	for {
		var msg struct {
			Stream      string `json:"stream"`
			Error       string `json:"error"`
			ErrorDetail struct {
				Message string `json:"message"`
			} `json:"errorDetail"`
		}
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to decode build output: %w", err)
		}
		if msg.Stream != "" && logWriter != nil {
			fmt.Fprint(logWriter, msg.Stream)
		}
		if msg.Error != "" {
			return fmt.Errorf("%s", msg.Error)
		}
	}
}

func tarDirectory(root string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tw, file)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func stringPtrMap(in map[string]string) map[string]*string {
	if in == nil {
		return nil
	}
	out := make(map[string]*string, len(in))
	for k, v := range in {
		value := v
		out[k] = &value
	}
	return out
}
