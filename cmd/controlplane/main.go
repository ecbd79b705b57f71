// Command controlplane is the process entry point: it loads configuration,
// wires every internal package together bottom-up (runtime, route table,
// health checker, proxy, ACME, engine, API), and runs until an OS signal
// asks it to stop. Grounded on the teacher's main.go, generalized from
// "open a db, start one http.Server, test-start one nginx container" into
// wiring the full control plane: three listeners (API, HTTP proxy, HTTPS
// proxy) plus three background loops (health checker, ACME renewal,
// deployment workers), all sharing one shutdown context.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rivetr/controlplane/internal/acme"
	"github.com/rivetr/controlplane/internal/api"
	"github.com/rivetr/controlplane/internal/config"
	"github.com/rivetr/controlplane/internal/engine"
	"github.com/rivetr/controlplane/internal/health"
	"github.com/rivetr/controlplane/internal/proxy"
	"github.com/rivetr/controlplane/internal/routetable"
	"github.com/rivetr/controlplane/internal/runtime"
	"github.com/rivetr/controlplane/internal/store"
)

// apiShutdownGrace mirrors the 10s grace period internal/proxy.Server uses,
// so every listener gives in-flight work the same window to finish.
const apiShutdownGrace = 10 * time.Second

// deployWorkerCount bounds how many deployments run concurrently; the job
// queue itself (capacity cfg.DeployQueueCapacity) is what actually bounds
// how much work can be pending beyond that.
const deployWorkerCount = 4

func main() {
	cfg := config.LoadAppConfig()
	logger := cfg.NewLogger()

	logger.Info("rivetr control plane starting",
		"api_port", cfg.APIPort, "http_port", cfg.HTTPPort, "https_port", cfg.HTTPSPort,
		"data_dir", cfg.DataDir, "acme_staging", cfg.ACME.Staging,
	)

	db, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	dockerRuntime, err := runtime.NewDockerRuntime(logger, cfg.RuntimeSocket)
	if err != nil {
		log.Fatalf("failed to connect to container runtime: %v", err)
	}
	defer dockerRuntime.Close()

	table := routetable.New()

	checker := health.New(table, logger, cfg.HealthCheck.Interval, cfg.HealthCheck.Timeout, cfg.HealthCheck.FailureThreshold)

	certs, err := proxy.NewCertStore()
	if err != nil {
		log.Fatalf("failed to initialize certificate store: %v", err)
	}

	challenges := acme.NewChallengeStore()

	eng := engine.New(db, dockerRuntime, table, logger, engine.Config{
		DataDir:                    cfg.DataDir,
		LogRoot:                    cfg.LogRoot,
		ServicePrefix:              cfg.ServicePrefix,
		DeployNetwork:              cfg.DeployNetwork,
		EnvEncryptionSecret:        cfg.EnvEncryptionSecret,
		MaxRollbackVersionsDefault: cfg.MaxRollbackVersionsDefault,
		QueueCapacity:              cfg.DeployQueueCapacity,
	})

	proxyServer := proxy.NewServer(
		cfg.BindHost+":"+cfg.HTTPPort,
		cfg.BindHost+":"+cfg.HTTPSPort,
		table, challenges, certs, logger,
	)

	apiHandler := api.NewRouter(api.Dependencies{
		Store:               db,
		Engine:              eng,
		Table:               table,
		Runtime:             dockerRuntime,
		Logger:              logger,
		LogRoot:             cfg.LogRoot,
		DataDir:             cfg.DataDir,
		EnvEncryptionSecret: cfg.EnvEncryptionSecret,
		AllowedOrigin:       getEnv("CORS_ALLOWED_ORIGIN", "*"),
	})

	apiServer := &http.Server{
		Addr:         cfg.BindHost + ":" + cfg.APIPort,
		Handler:      apiHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.RebuildRouteTable(rootCtx); err != nil {
		logger.Error("failed to rebuild route table from persisted state", "error", err)
	}

	eng.Start(rootCtx, deployWorkerCount)
	go checker.Run(rootCtx)

	var acmeClient *acme.Client
	if cfg.ACME.Email != "" {
		acmeClient, err = acme.New(rootCtx, acme.Config{
			Email:     cfg.ACME.Email,
			Staging:   cfg.ACME.Staging,
			CacheDir:  cfg.ACME.CacheDir,
			PollEvery: cfg.ACME.PollEvery,
			PollTries: cfg.ACME.PollTries,
		}, challenges)
		if err != nil {
			logger.Error("failed to initialize acme client, certificates will not be issued", "error", err)
		} else {
			preloadCertificates(acmeClient, certs, logger)
			renewals := acme.NewRenewalManager(acmeClient, certs, logger, cfg.ACME.RenewEvery, cfg.ACME.RenewDays)
			go renewals.Run(rootCtx)
		}
	} else {
		logger.Warn("ACME_EMAIL not set, certificate issuance is disabled; the proxy will serve the self-signed fallback certificate over HTTPS")
	}

	errCh := make(chan error, 2)
	go func() {
		if err := proxyServer.Run(rootCtx); err != nil {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("api server listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("listener failed, shutting down", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownGrace)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown failed", "error", err)
	}

	logger.Info("control plane stopped")
}

// preloadCertificates installs any already-cached certificate into the live
// CertStore at startup, so a restart does not briefly fall back to the
// self-signed certificate for domains that were already issued one.
func preloadCertificates(client *acme.Client, certs *proxy.CertStore, logger *slog.Logger) {
	domains, err := client.CachedDomains()
	if err != nil {
		logger.Error("failed to list cached certificates", "error", err)
		return
	}
	for _, domain := range domains {
		certDir := client.CertDir(domain)
		cert, err := acme.LoadCertificate(certDir)
		if err != nil {
			logger.Error("failed to load cached certificate", "domain", domain, "error", err)
			continue
		}
		sans, err := acme.DomainsFromChain(certDir)
		if err != nil {
			sans = []string{domain}
		}
		certs.Put(sans, cert)
		logger.Info("loaded cached certificate", "domain", domain, "sans", sans)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
