// Package config handles loading and validating application configuration
// from environment variables. All values have sensible defaults so the
// application can start with zero environment setup during local development.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// AppConfig holds all configuration values for the process. Values are read
// once at startup and passed through the app via dependency injection. No
// global config variable is used: callers receive a *AppConfig explicitly,
// making dependencies visible and the code easier to test.
type AppConfig struct {
	// BindHost is the interface the HTTP, HTTPS and API listeners bind to.
	BindHost string

	// APIPort is the TCP port the control-plane JSON API listens on.
	APIPort string
	// HTTPPort is the plain-HTTP reverse proxy listener (also answers
	// ACME HTTP-01 challenges).
	HTTPPort string
	// HTTPSPort is the TLS-terminating reverse proxy listener.
	HTTPSPort string

	// DBPath is the file path to the SQLite database file.
	DBPath string

	// DataDir is the base directory for all on-disk state: deployment
	// work trees, ACME account/cert cache, deployment logs.
	DataDir string

	// LogRoot is the base directory where per-deployment log files are
	// written, one file per deployment id.
	LogRoot string

	// ServicePrefix names the Docker containers this control plane
	// manages, e.g. container "<ServicePrefix>-<app_name>".
	ServicePrefix string

	// DeployNetwork is the Docker network name deployed containers are
	// attached to so the proxy can reach them by container IP.
	DeployNetwork string

	// LogFormat controls the output format of slog: "text" (human
	// readable, local dev) or anything else for structured JSON.
	LogFormat string

	ACME ACMEConfig

	HealthCheck HealthCheckConfig

	// EnvEncryptionSecret derives the AES-256-GCM key used to decrypt
	// ENC:-prefixed environment variable values before container launch.
	// Empty means encrypted values cannot be used.
	EnvEncryptionSecret string

	// RuntimeSocket overrides the Docker endpoint; empty uses
	// client.FromEnv (DOCKER_HOST or the default socket).
	RuntimeSocket string

	// MaxRollbackVersionsDefault is used for Applications that do not
	// set their own retention count.
	MaxRollbackVersionsDefault int

	// DeployQueueCapacity bounds the number of deployment jobs that may
	// be pending at once before the API starts returning 503.
	DeployQueueCapacity int
}

// ACMEConfig groups the RFC 8555 client's configuration.
type ACMEConfig struct {
	Email      string
	Staging    bool
	CacheDir   string
	PollEvery  time.Duration
	PollTries  int
	RenewEvery time.Duration
	RenewDays  int
}

// HealthCheckConfig groups the background health checker's tunables.
type HealthCheckConfig struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
}

// NewLogger constructs a *slog.Logger based on the LogFormat field of the
// config. "text" produces human-readable output for local development; any
// other value (including "json") produces structured JSON output for
// production and container log shipping.
func (config *AppConfig) NewLogger() *slog.Logger {
	var handler slog.Handler

	options := &slog.HandlerOptions{
		// AddSource adds file/line to each record; useful in development.
		// Trimmed to basename below since the absolute path is an eyesore.
		AddSource: true,
		Level:     slog.LevelDebug,
		ReplaceAttr: func(groups []string, attribute slog.Attr) slog.Attr {
			if attribute.Key == slog.SourceKey {
				source := attribute.Value.Any().(*slog.Source)
				source.File = filepath.Base(source.File)
			}
			return attribute
		},
	}

	if config.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, options)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, options)
	}

	return slog.New(handler)
}

// LoadAppConfig reads configuration from environment variables and returns
// a populated AppConfig. Missing environment variables fall back to safe
// local-development defaults so the process can run without any setup.
func LoadAppConfig() *AppConfig {
	dataDir := getEnv("DATA_DIR", "./data")

	return &AppConfig{
		BindHost:  getEnv("BIND_HOST", "0.0.0.0"),
		APIPort:   getEnv("API_PORT", "8080"),
		HTTPPort:  getEnv("HTTP_PORT", "8000"),
		HTTPSPort: getEnv("HTTPS_PORT", "8443"),

		DBPath: getEnv("DB_PATH", filepath.Join(dataDir, "control-plane.db")),
		DataDir: dataDir,
		LogRoot: getEnv("LOG_ROOT", filepath.Join(dataDir, "logs")),

		ServicePrefix: getEnv("SERVICE_PREFIX", "rivetr"),
		DeployNetwork: getEnv("DEPLOY_NETWORK", "rivetr-network"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),

		ACME: ACMEConfig{
			Email:      getEnv("ACME_EMAIL", ""),
			Staging:    getEnvBool("ACME_STAGING", true),
			CacheDir:   getEnv("ACME_CACHE_DIR", filepath.Join(dataDir, "acme")),
			PollEvery:  2 * time.Second,
			PollTries:  30,
			RenewEvery: 12 * time.Hour,
			RenewDays:  getEnvInt("ACME_RENEWAL_WINDOW_DAYS", 30),
		},

		HealthCheck: HealthCheckConfig{
			Interval:         getEnvDuration("HEALTH_CHECK_INTERVAL_SECS", 30*time.Second),
			Timeout:          getEnvDuration("HEALTH_CHECK_TIMEOUT_SECS", 5*time.Second),
			FailureThreshold: getEnvInt("HEALTH_CHECK_FAILURE_THRESHOLD", 3),
		},

		EnvEncryptionSecret:        getEnv("ENV_ENCRYPTION_SECRET", ""),
		RuntimeSocket:              getEnv("RUNTIME_SOCKET", ""),
		MaxRollbackVersionsDefault: getEnvInt("MAX_ROLLBACK_VERSIONS", 3),
		DeployQueueCapacity:        getEnvInt("DEPLOY_QUEUE_CAPACITY", 100),
	}
}

// getEnv retrieves the value of an environment variable by key. If the
// variable is not set or is empty, the provided fallback value is returned.
// This avoids scattered os.Getenv calls with inline fallback logic.
func getEnv(key, fallbackValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallbackValue
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
