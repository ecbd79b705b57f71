// Package runtime exposes a narrow capability surface over a container
// engine, letting Docker, Podman, or a test fake be substituted without the
// deployment engine ever importing a container SDK directly. Only this
// package (its docker.go and build.go files) imports the Docker SDK; if the backend
// ever changes, only this package changes.
package runtime

import (
	"context"
	"io"
	"time"
)

// BuildSpec describes an image build request. Two shapes are supported by a
// single Build operation, matching the teacher's own two build paths:
//
//   - Dockerfile builds: DockerfilePath is set (or defaults to "Dockerfile")
//     and the daemon's native image build endpoint is used directly.
//   - Command-driven builds (nixpacks, railpack, cnb, static):
//     BuilderImage and Command are set instead, and the build runs as an
//     ephemeral container with ContextDir bind-mounted at /workspace. The
//     static build writes its output back onto the host filesystem; the
//     nixpacks, railpack and cnb commands name their own image and build it
//     through the host Docker socket. Tag is ignored in this shape.
type BuildSpec struct {
	ContextDir     string
	DockerfilePath string
	Tag            string
	BuildArgs      map[string]string
	Target         string

	BuilderImage string
	Command      string
	Env          []string
	// ExtraBinds augments the ContextDir->/workspace mount, used by builder
	// strategies that need the host's Docker socket (nixpacks, railpack, CNB) to build
	// an image from inside the ephemeral build container itself.
	ExtraBinds []BindMount
}

// RunSpec describes a container run request.
type RunSpec struct {
	Image string
	Name  string
	Env   []string

	// ContainerPort is the port the application listens on inside the
	// container. HostPort of 0 means "assign a free host port"; Inspect
	// must subsequently report the assignment.
	ContainerPort int
	HostPort      int

	MemoryLimitMB int64
	CPULimit      float64

	Binds       []BindMount
	Labels      map[string]string
	NetworkName string
	Aliases     []string
	ExtraHosts  []string
}

// BindMount is a host-directory-into-container bind mount.
type BindMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// ContainerInfo is the result of Inspect.
type ContainerInfo struct {
	ID       string
	Running  bool
	HostPort int
}

// ContainerSummary is one row of ListContainers.
type ContainerSummary struct {
	ID     string
	Name   string
	Status string
}

// Stats is the result of Stats.
type Stats struct {
	CPUPercent  float64
	MemoryUsage int64
	MemoryLimit int64
}

// LogLine is one line of output from Logs.
type LogLine struct {
	Timestamp time.Time
	Stream    string // "stdout" or "stderr"
	Message   string
}

// Runtime is the operation table the deployment engine talks to, expressed
// as an interface so a Docker adapter or an in-memory fake can be chosen at
// startup. This is the idiomatic Go stand-in for an async trait object: one
// concrete implementation is wired in cmd/controlplane/main.go, and every
// caller depends only on this interface.
type Runtime interface {
	PullImage(ctx context.Context, ref string) error
	Build(ctx context.Context, spec BuildSpec, logWriter io.Writer) error
	Run(ctx context.Context, spec RunSpec) (containerID string, err error)
	Stop(ctx context.Context, idOrName string) error
	Remove(ctx context.Context, idOrName string) error
	Inspect(ctx context.Context, id string) (ContainerInfo, error)
	Logs(ctx context.Context, id string) (<-chan LogLine, error)
	Stats(ctx context.Context, id string) (Stats, error)
	ListContainers(ctx context.Context, namePrefix string) ([]ContainerSummary, error)
	RemoveImage(ctx context.Context, tag string) error
}
