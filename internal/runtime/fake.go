package runtime

// fake.go provides an in-memory Runtime double for tests that exercise
// internal/engine, internal/routetable and internal/health without a real
// Docker daemon.

import (
	"context"
	"fmt"
	"io"
	"sync"
)

type fakeContainer struct {
	id      string
	name    string
	image   string
	running bool
	port    int
}

// FakeRuntime is a goroutine-safe in-memory Runtime implementation. Build
// succeeds unless FailBuild is set and writes a single fixed line to logWriter; Run assigns
// sequential fake container ids and, when spec.HostPort is 0, a deterministic
// fake host port so callers exercising the "assign a free port" path still
// get a stable, inspectable value.
type FakeRuntime struct {
	mu          sync.Mutex
	containers  map[string]*fakeContainer
	nextID      int
	nextPort    int
	FailPull    bool
	FailBuild   bool
	FailRun     bool
	RunHook     func(spec RunSpec)
}

// NewFakeRuntime returns a FakeRuntime ready for use.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]*fakeContainer),
		nextPort:   30000,
	}
}

func (f *FakeRuntime) PullImage(ctx context.Context, ref string) error {
	if f.FailPull {
		return fmt.Errorf("fake pull failure for %q", ref)
	}
	return nil
}

func (f *FakeRuntime) Build(ctx context.Context, spec BuildSpec, logWriter io.Writer) error {
	if f.FailBuild {
		return fmt.Errorf("fake build failure for %q", spec.Tag)
	}
	if logWriter != nil {
		fmt.Fprintf(logWriter, "fake build succeeded: %s\n", spec.Tag)
	}
	return nil
}

func (f *FakeRuntime) Run(ctx context.Context, spec RunSpec) (string, error) {
	if f.RunHook != nil {
		f.RunHook(spec)
	}
	if f.FailRun {
		return "", fmt.Errorf("fake run failure for %q", spec.Name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("fake%012d", f.nextID)

	port := spec.HostPort
	if port == 0 {
		port = f.nextPort
		f.nextPort++
	}

	f.containers[id] = &fakeContainer{id: id, name: spec.Name, image: spec.Image, running: true, port: port}
	return id, nil
}

func (f *FakeRuntime) Stop(ctx context.Context, idOrName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.find(idOrName); c != nil {
		c.running = false
	}
	return nil
}

func (f *FakeRuntime) Remove(ctx context.Context, idOrName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.find(idOrName); c != nil {
		delete(f.containers, c.id)
	}
	return nil
}

func (f *FakeRuntime) Inspect(ctx context.Context, id string) (ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.find(id)
	if c == nil {
		return ContainerInfo{}, fmt.Errorf("fake container %q not found", id)
	}
	return ContainerInfo{ID: c.id, Running: c.running, HostPort: c.port}, nil
}

func (f *FakeRuntime) Logs(ctx context.Context, id string) (<-chan LogLine, error) {
	lines := make(chan LogLine)
	close(lines)
	return lines, nil
}

func (f *FakeRuntime) Stats(ctx context.Context, id string) (Stats, error) {
	return Stats{}, nil
}

func (f *FakeRuntime) ListContainers(ctx context.Context, namePrefix string) ([]ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var summaries []ContainerSummary
	for _, c := range f.containers {
		if namePrefix == "" || hasPrefix(c.name, namePrefix) {
			status := "exited"
			if c.running {
				status = "running"
			}
			summaries = append(summaries, ContainerSummary{ID: c.id, Name: c.name, Status: status})
		}
	}
	return summaries, nil
}

func (f *FakeRuntime) RemoveImage(ctx context.Context, tag string) error {
	return nil
}

// find must be called with f.mu held.
func (f *FakeRuntime) find(idOrName string) *fakeContainer {
	if c, ok := f.containers[idOrName]; ok {
		return c
	}
	for _, c := range f.containers {
		if c.name == idOrName {
			return c
		}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

var _ Runtime = (*FakeRuntime)(nil)
