// Package engine drives the deployment state machine: clone, build, start,
// health-check, and commit a new container generation into the route table,
// with auto-rollback on failure. One Engine serves every Application.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rivetr/controlplane/internal/routetable"
	"github.com/rivetr/controlplane/internal/runtime"
	"github.com/rivetr/controlplane/internal/store"
)

// job is one unit of work consumed by a worker goroutine: deploy
// applicationID from scratch.
type job struct {
	applicationID string
}

// ErrQueueFull is returned by Enqueue when the bounded job channel is at
// capacity; callers map this to HTTP 503 so the client can retry later.
var ErrQueueFull = fmt.Errorf("deployment queue is full")

// Config groups the Engine's tunables, mirroring the teacher's
// DeployerPipelineConfig split so the engine does not import internal/config
// directly and stays independently testable.
type Config struct {
	DataDir                    string
	LogRoot                    string
	ServicePrefix              string
	DeployNetwork              string
	EnvEncryptionSecret        string
	MaxRollbackVersionsDefault int
	QueueCapacity              int
	HealthCheckInterval        string // kept as a formatted duration for logging only
}

// Engine owns the job queue, the route table, and all dependencies needed
// to run a deployment end to end.
type Engine struct {
	store   *store.Store
	runtime runtime.Runtime
	table   *routetable.Table
	logger  *slog.Logger
	cfg     Config

	jobs chan job

	mu      sync.Mutex
	cancels map[string]map[int]context.CancelFunc // applicationID -> token -> cancel func
	nextTok int
}

// New constructs an Engine. Call Start to launch its worker pool.
func New(st *store.Store, rt runtime.Runtime, table *routetable.Table, logger *slog.Logger, cfg Config) *Engine {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
	return &Engine{
		store:   st,
		runtime: rt,
		table:   table,
		logger:  logger,
		cfg:     cfg,
		jobs:    make(chan job, cfg.QueueCapacity),
		cancels: make(map[string]map[int]context.CancelFunc),
	}
}

// Start launches workerCount goroutines consuming the job queue. Each worker
// runs one job to completion (runJob) before taking the next, so
// workerCount bounds how many deployments run concurrently.
func (e *Engine) Start(ctx context.Context, workerCount int) {
	for i := 0; i < workerCount; i++ {
		go e.worker(ctx)
	}
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			e.runJob(ctx, j)
		}
	}
}

// Enqueue submits a new deployment for applicationID. Non-blocking: if the
// bounded queue is full, ErrQueueFull is returned immediately rather than
// blocking the caller (the API handler maps this to HTTP 503).
func (e *Engine) Enqueue(applicationID string) error {
	select {
	case e.jobs <- job{applicationID: applicationID}:
		return nil
	default:
		return ErrQueueFull
	}
}

// registerCancel and unregisterCancel implement the per-Application
// cancellation described in §5: deleting an Application cancels any of its
// in-flight deployment goroutines. registerCancel returns a token that must
// be passed to unregisterCancel once the deployment finishes, so a
// completed deployment's cancel func is not invoked later for an unrelated
// one that reused the same applicationID.
func (e *Engine) registerCancel(applicationID string, cancel context.CancelFunc) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancels[applicationID] == nil {
		e.cancels[applicationID] = make(map[int]context.CancelFunc)
	}
	e.nextTok++
	token := e.nextTok
	e.cancels[applicationID][token] = cancel
	return token
}

func (e *Engine) unregisterCancel(applicationID string, token int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels[applicationID], token)
	if len(e.cancels[applicationID]) == 0 {
		delete(e.cancels, applicationID)
	}
}

// CancelApplication cancels every in-flight deployment goroutine for
// applicationID. Used by the DELETE /api/applications/{id} handler before
// tearing down routes and containers.
func (e *Engine) CancelApplication(applicationID string) {
	e.mu.Lock()
	funcs := e.cancels[applicationID]
	delete(e.cancels, applicationID)
	e.mu.Unlock()

	for _, cancel := range funcs {
		cancel()
	}
}

// Table exposes the route table for the proxy and API layers to share.
func (e *Engine) Table() *routetable.Table {
	return e.table
}
