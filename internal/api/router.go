// Package api is the control plane's HTTP surface: a chi router translating
// JSON requests into calls on internal/store and internal/engine. Grounded
// on the teacher's handlers package (same router-builder-with-dependencies
// shape); generalized from one resource (deployments) to the full
// Application/Deployment surface this spec's data model needs.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rivetr/controlplane/internal/engine"
	"github.com/rivetr/controlplane/internal/routetable"
	"github.com/rivetr/controlplane/internal/runtime"
	"github.com/rivetr/controlplane/internal/store"
)

// Dependencies groups everything the router and its handlers need. A
// single struct keeps NewRouter's signature stable as new handlers are
// added, the same reasoning behind the teacher's RouterDependencies.
type Dependencies struct {
	Store               *store.Store
	Engine              *engine.Engine
	Table               *routetable.Table
	Runtime             runtime.Runtime
	Logger              *slog.Logger
	LogRoot             string
	DataDir             string
	EnvEncryptionSecret string
	AllowedOrigin       string
}

// NewRouter constructs the chi multiplexer, attaches middleware, builds
// handlers from deps, and registers every route. Returns a plain
// http.Handler so cmd/controlplane/main.go has no chi import of its own.
func NewRouter(deps Dependencies) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	router.Use(RequestLogger(deps.Logger))
	if deps.AllowedOrigin != "" {
		router.Use(CORSMiddleware(deps.AllowedOrigin))
	}

	health := NewHealthHandler(deps.Store, deps.Runtime, deps.Logger)
	applications := NewApplicationHandler(deps.Store, deps.Engine, deps.Table, deps.Runtime, deps.Logger, deps.EnvEncryptionSecret, deps.DataDir)
	deployments := NewDeploymentHandler(deps.Store, deps.Engine, deps.LogRoot, deps.Logger)

	// /health sits outside the /api prefix: load balancers, container
	// orchestrators and uptime monitors expect it at the root, not nested
	// under the API's own route grouping.
	router.Get("/health", health.Health)

	router.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Post("/applications", applications.CreateApplication)
		apiRouter.Get("/applications", applications.ListApplications)
		apiRouter.Get("/applications/{id}", applications.GetApplication)
		apiRouter.Delete("/applications/{id}", applications.DeleteApplication)
		apiRouter.Post("/applications/{id}/deploy", deployments.Deploy)

		apiRouter.Get("/deployments/{id}", deployments.GetDeployment)
		apiRouter.Get("/deployments/{id}/logs", deployments.GetDeploymentLogs)
	})

	// W3C trace-context propagation so a traceparent header on an inbound
	// request is honored instead of always starting a new trace; otelhttp
	// uses the globally configured propagator, which defaults to a no-op.
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// otelhttp wraps every request in a trace span; every span carries the
	// same name, "controlplane-api", not the chi route pattern. No exporter is configured here: with none, the otel SDK's
	// default no-op tracer provider is used, so this costs nothing until an
	// operator wires a real exporter in cmd/controlplane/main.go, while the
	// instrumentation itself and its span naming are already in place.
	return otelhttp.NewHandler(router, "controlplane-api")
}
