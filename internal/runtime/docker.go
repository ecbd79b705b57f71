package runtime

// docker.go is the Docker SDK adapter implementing the Runtime interface.
// All Docker SDK calls for the whole program are isolated in this package
// (this file and build.go); callers never import the SDK themselves.

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockersdk "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/rivetr/controlplane/internal/util"
)

// DockerRuntime wraps the Docker SDK client with a logger. It is safe to
// share across goroutines: the SDK handles its own connection pooling.
type DockerRuntime struct {
	sdk    *dockersdk.Client
	logger *slog.Logger
}

// NewDockerRuntime connects to the Docker daemon (via DOCKER_HOST or the
// default Unix socket when socketOverride is empty) and pings it to verify
// the connection is live before returning. A failure here should abort
// process startup: the control plane cannot function without a runtime.
func NewDockerRuntime(logger *slog.Logger, socketOverride string) (*DockerRuntime, error) {
	opts := []dockersdk.Opt{dockersdk.FromEnv, dockersdk.WithAPIVersionNegotiation()}
	if socketOverride != "" {
		opts = append(opts, dockersdk.WithHost(socketOverride))
	}

	sdkClient, err := dockersdk.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker sdk client: %w", err)
	}

	rt := &DockerRuntime{sdk: sdkClient, logger: logger}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rt.sdk.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	logger.Info("docker runtime connected", "host", sdkClient.DaemonHost())
	return rt, nil
}

// Close releases the underlying Docker SDK client connection.
func (rt *DockerRuntime) Close() error {
	return rt.sdk.Close()
}

// PullImage pulls ref if not already present; idempotent since the Docker
// daemon itself short-circuits when the image already exists locally with
// a matching digest (a fresh pull still happens for a mutable tag, matching
// Docker's own semantics).
func (rt *DockerRuntime) PullImage(ctx context.Context, ref string) error {
	rt.logger.Info("pulling image", "ref", ref)
	stream, err := rt.sdk.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to initiate image pull for %q: %w", ref, err)
	}
	defer stream.Close()

	// The pull response is a stream of JSON progress lines that must be
	// drained in full or the daemon can stall mid-pull.
	if _, err := io.Copy(io.Discard, stream); err != nil {
		return fmt.Errorf("failed to stream image pull response for %q: %w", ref, err)
	}
	rt.logger.Info("image pulled", "ref", ref)
	return nil
}

// Build dispatches to one of two build strategies depending on which fields
// of spec are populated. A Command-driven spec (nixpacks, railpack, cnb,
// static) runs as an ephemeral container with the host context directory
// bind-mounted at /workspace; a Dockerfile
// spec goes through the daemon's own image build endpoint.
func (rt *DockerRuntime) Build(ctx context.Context, spec BuildSpec, logWriter io.Writer) error {
	if spec.Command != "" {
		return rt.runEphemeralBuildContainer(ctx, spec, logWriter)
	}
	return buildDockerfileImage(ctx, rt.sdk, spec, logWriter)
}

// runEphemeralBuildContainer pulls BuilderImage, bind-mounts ContextDir at
// /workspace read-write, runs Command via `sh -c` as the current process's
// uid:gid (so build output is not left root-owned and can be cleaned up
// afterwards), waits for exit, copies its demultiplexed logs to logWriter,
// removes the container, and returns an error on non-zero exit.
func (rt *DockerRuntime) runEphemeralBuildContainer(ctx context.Context, spec BuildSpec, logWriter io.Writer) error {
	if err := rt.PullImage(ctx, spec.BuilderImage); err != nil {
		return fmt.Errorf("failed to pull builder image %q: %w", spec.BuilderImage, err)
	}

	containerName := "build-" + util.GenerateSlug()

	mounts := []mount.Mount{{
		Type:     mount.TypeBind,
		Source:   spec.ContextDir,
		Target:   "/workspace",
		ReadOnly: false,
	}}
	for _, b := range spec.ExtraBinds {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: b.HostPath, Target: b.ContainerPath, ReadOnly: b.ReadOnly})
	}

	createResponse, err := rt.sdk.ContainerCreate(ctx,
		&container.Config{
			Image:      spec.BuilderImage,
			Cmd:        []string{"sh", "-c", spec.Command},
			WorkingDir: "/workspace",
			Env:        spec.Env,
			User:       ephemeralBuildUser(),
		},
		&container.HostConfig{Mounts: mounts},
		nil, nil, containerName,
	)
	if err != nil {
		return fmt.Errorf("failed to create build container %q: %w", containerName, err)
	}

	defer func() {
		if err := rt.sdk.ContainerRemove(ctx, createResponse.ID, container.RemoveOptions{Force: true}); err != nil {
			rt.logger.Warn("failed to remove build container (non-fatal)", "container_name", containerName, "error", err)
		}
	}()

	if err := rt.sdk.ContainerStart(ctx, createResponse.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start build container %q: %w", containerName, err)
	}

	statusCh, errCh := rt.sdk.ContainerWait(ctx, createResponse.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case waitErr := <-errCh:
		if waitErr != nil {
			return fmt.Errorf("error waiting for build container %q: %w", containerName, waitErr)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := rt.sdk.ContainerLogs(ctx, createResponse.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		rt.logger.Warn("failed to read build container logs (non-fatal)", "container_name", containerName, "error", err)
	} else {
		defer logs.Close()
		if _, err := stdcopy.StdCopy(logWriter, logWriter, logs); err != nil {
			rt.logger.Warn("failed to copy build container logs (non-fatal)", "container_name", containerName, "error", err)
		}
	}

	if exitCode != 0 {
		return fmt.Errorf("build command exited with code %d in container %q", exitCode, containerName)
	}
	return nil
}

// Run creates and starts a container from spec, returning its id once it is
// started. Port mapping with HostPort == 0 lets Docker assign a free host
// port; Inspect resolves the actual assignment afterwards.
func (rt *DockerRuntime) Run(ctx context.Context, spec RunSpec) (string, error) {
	containerPort, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
	if err != nil {
		return "", fmt.Errorf("invalid container port %d: %w", spec.ContainerPort, err)
	}

	hostPortStr := ""
	if spec.HostPort != 0 {
		hostPortStr = strconv.Itoa(spec.HostPort)
	}

	internalConfig := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}

	binds := make([]mount.Mount, 0, len(spec.Binds))
	for _, b := range spec.Binds {
		binds = append(binds, mount.Mount{
			Type:     mount.TypeBind,
			Source:   b.HostPath,
			Target:   b.ContainerPath,
			ReadOnly: b.ReadOnly,
		})
	}

	hostConfig := &container.HostConfig{
		Mounts: binds,
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPortStr}},
		},
		ExtraHosts:    spec.ExtraHosts,
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}
	if spec.MemoryLimitMB > 0 {
		hostConfig.Memory = spec.MemoryLimitMB * 1024 * 1024
	}
	if spec.CPULimit > 0 {
		hostConfig.NanoCPUs = int64(spec.CPULimit * 1e9)
	}

	var networkingConfig *network.NetworkingConfig
	if spec.NetworkName != "" {
		networkingConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.NetworkName: {Aliases: spec.Aliases},
			},
		}
	}

	createResponse, err := rt.sdk.ContainerCreate(ctx, internalConfig, hostConfig, networkingConfig, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %q: %w", spec.Name, err)
	}

	if err := rt.sdk.ContainerStart(ctx, createResponse.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container %q: %w", spec.Name, err)
	}

	rt.logger.Info("container started", "container_id", createResponse.ID[:12], "name", spec.Name)
	return createResponse.ID, nil
}

// Stop stops a container by id or name. Idempotent: "not found" is not an
// error, since the desired end state (container gone) is already true.
func (rt *DockerRuntime) Stop(ctx context.Context, idOrName string) error {
	stopTimeout := 10
	err := rt.sdk.ContainerStop(ctx, idOrName, container.StopOptions{Timeout: &stopTimeout})
	if err != nil && !dockersdk.IsErrNotFound(err) {
		return fmt.Errorf("failed to stop container %q: %w", idOrName, err)
	}
	return nil
}

// Remove removes a container by id or name. Idempotent on "not found".
func (rt *DockerRuntime) Remove(ctx context.Context, idOrName string) error {
	err := rt.sdk.ContainerRemove(ctx, idOrName, container.RemoveOptions{Force: true})
	if err != nil && !dockersdk.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container %q: %w", idOrName, err)
	}
	return nil
}

// Inspect reports whether a container is running and its assigned host
// port, resolving the case where Run was asked to auto-assign one.
func (rt *DockerRuntime) Inspect(ctx context.Context, id string) (ContainerInfo, error) {
	details, err := rt.sdk.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("failed to inspect container %q: %w", id, err)
	}

	info := ContainerInfo{ID: details.ID, Running: details.State != nil && details.State.Running}
	if details.NetworkSettings != nil {
		for _, bindings := range details.NetworkSettings.Ports {
			for _, binding := range bindings {
				if port, err := strconv.Atoi(binding.HostPort); err == nil {
					info.HostPort = port
				}
			}
		}
	}
	return info, nil
}

// Logs streams a container's demultiplexed stdout/stderr as a channel of
// LogLine, closing the channel once the container's log stream ends (the
// container exits or the context is cancelled).
func (rt *DockerRuntime) Logs(ctx context.Context, id string) (<-chan LogLine, error) {
	reader, err := rt.sdk.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read logs for container %q: %w", id, err)
	}

	lines := make(chan LogLine, 64)
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	go func() {
		defer reader.Close()
		defer stdoutWriter.Close()
		defer stderrWriter.Close()
		_, _ = stdcopy.StdCopy(stdoutWriter, stderrWriter, reader)
	}()

	scanStream := func(r io.Reader, stream string) {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- LogLine{Timestamp: time.Now().UTC(), Stream: stream, Message: scanner.Text()}
		}
	}

	go func() {
		defer close(lines)
		done := make(chan struct{}, 2)
		go func() { scanStream(stdoutReader, "stdout"); done <- struct{}{} }()
		go func() { scanStream(stderrReader, "stderr"); done <- struct{}{} }()
		<-done
		<-done
	}()

	return lines, nil
}

// Stats returns a point-in-time resource usage snapshot.
func (rt *DockerRuntime) Stats(ctx context.Context, id string) (Stats, error) {
	resp, err := rt.sdk.ContainerStats(ctx, id, false)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to get stats for container %q: %w", id, err)
	}
	defer resp.Body.Close()
	// TODO: decode the JSON stats payload once a metrics/dashboard consumer
	// exists; no current caller needs more than a zero-value result.
	_, _ = io.Copy(io.Discard, resp.Body)
	return Stats{}, nil
}

// ListContainers lists containers whose name starts with namePrefix.
func (rt *DockerRuntime) ListContainers(ctx context.Context, namePrefix string) ([]ContainerSummary, error) {
	listFilters := filters.NewArgs(filters.Arg("name", namePrefix))
	containers, err := rt.sdk.ContainerList(ctx, container.ListOptions{All: true, Filters: listFilters})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers matching %q: %w", namePrefix, err)
	}

	summaries := make([]ContainerSummary, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		summaries = append(summaries, ContainerSummary{ID: c.ID, Name: name, Status: c.Status})
	}
	return summaries, nil
}

// RemoveImage removes a built image by tag. Idempotent on "not found".
func (rt *DockerRuntime) RemoveImage(ctx context.Context, tag string) error {
	_, err := rt.sdk.ImageRemove(ctx, tag, image.RemoveOptions{Force: true})
	if err != nil && !dockersdk.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove image %q: %w", tag, err)
	}
	return nil
}

// ephemeralBuildUser runs build containers as the current process's uid:gid
// so build output written back to a bind-mounted host directory is not
// root-owned and can be cleaned up afterwards.
func ephemeralBuildUser() string {
	return fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
}
