// Package models defines the data structures shared across the application.
// This package has no imports from other internal packages, making it the
// foundation of the dependency graph: store, engine, api, builder, proxy and
// routetable all import from here, never the other way around.
package models

import (
	"strconv"
	"time"
)

// DeploymentStatus represents the current lifecycle state of a deployment.
// A named string type instead of plain string means the compiler rejects
// `deployment.Status = "typo"` when combined with the constants below;
// a plain string field gives no such protection.
type DeploymentStatus string

const (
	StatusPending   DeploymentStatus = "pending"
	StatusCloning   DeploymentStatus = "cloning"
	StatusBuilding  DeploymentStatus = "building"
	StatusStarting  DeploymentStatus = "starting"
	StatusChecking  DeploymentStatus = "checking"
	StatusRunning   DeploymentStatus = "running"
	StatusFailed    DeploymentStatus = "failed"
	StatusStopped   DeploymentStatus = "stopped"
)

// Terminal reports whether the status is one the state machine does not
// leave on its own (running/failed/stopped). Pending through checking are
// all in-flight.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusRunning || s == StatusFailed || s == StatusStopped
}

// BuildType selects which builder the engine's "building" step dispatches
// to. See internal/builder for the dispatch table.
type BuildType string

const (
	BuildDockerfile     BuildType = "dockerfile"
	BuildNixpacks       BuildType = "nixpacks"
	BuildRailpack       BuildType = "railpack"
	BuildCNB            BuildType = "cnb"
	BuildStatic         BuildType = "static"
	BuildDockerCompose  BuildType = "docker-compose"
	BuildDockerImage    BuildType = "docker-image"
)

// ValidBuildType reports whether bt is one of the enumerated build types.
// Used by the API layer to reject invalid input before it ever reaches the
// engine (a Config-class error per the error taxonomy).
func ValidBuildType(bt BuildType) bool {
	switch bt {
	case BuildDockerfile, BuildNixpacks, BuildRailpack, BuildCNB, BuildStatic, BuildDockerCompose, BuildDockerImage:
		return true
	default:
		return false
	}
}

// Application is the immutable-identity, mutable-config unit a user
// declares. One Application accumulates many Deployments over its life; at
// most one of them is ever "running" at a time.
type Application struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	GitURL         string    `json:"git_url" db:"git_url"`
	Branch         string    `json:"branch" db:"branch"`
	DockerfilePath string    `json:"dockerfile_path" db:"dockerfile_path"`
	BuildType      BuildType `json:"build_type" db:"build_type"`

	// DockerImageRef is the remote reference (e.g. "registry.example.com/app:v3")
	// pulled and run directly when BuildType is BuildDockerImage. Unused by
	// every other build type.
	DockerImageRef string `json:"docker_image_ref,omitempty" db:"docker_image_ref"`

	// Env is the JSON-encoded key-value map of environment variables
	// applied at container start. Values may be ENC:-prefixed ciphertext
	// (see internal/secrets); nil means none configured.
	Env *string `json:"env,omitempty" db:"env"`

	Port            int    `json:"port" db:"port"`
	HealthcheckPath string `json:"healthcheck_path" db:"healthcheck_path"`
	MemoryLimitMB   int64  `json:"memory_limit_mb" db:"memory_limit_mb"`
	CPULimit        float64 `json:"cpu_limit" db:"cpu_limit"`

	PrimaryDomain     string   `json:"primary_domain" db:"primary_domain"`
	AdditionalDomains []string `json:"additional_domains,omitempty" db:"-"`

	AutoRollback        bool `json:"auto_rollback" db:"auto_rollback"`
	MaxRollbackVersions int  `json:"max_rollback_versions" db:"max_rollback_versions"`

	// SSHKeyID pins a specific SSHKey for cloning; nil falls through to
	// any application-scoped key, then the global key (see internal/builder).
	SSHKeyID *string `json:"ssh_key_id,omitempty" db:"ssh_key_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Deployment is one attempt to realize an Application as a running
// container. It maps 1:1 to the deployments table and is the struct passed
// between the store, the engine, and the HTTP handlers.
type Deployment struct {
	ID            string           `json:"id" db:"id"`
	ApplicationID string           `json:"application_id" db:"application_id"`
	Status        DeploymentStatus `json:"status" db:"status"`

	ContainerID *string `json:"container_id,omitempty" db:"container_id"`
	ImageTag    *string `json:"image_tag,omitempty" db:"image_tag"`
	CommitSHA   *string `json:"commit_sha,omitempty" db:"commit_sha"`

	IsAutoRollback           bool    `json:"is_auto_rollback" db:"is_auto_rollback"`
	RollbackFromDeploymentID *string `json:"rollback_from_deployment_id,omitempty" db:"rollback_from_deployment_id"`

	// ErrorMessage is set when Status reaches StatusFailed; a short
	// human-readable reason naming the step that failed. No part of the
	// build/runtime log is copied into it; that log stays in the
	// deployment's log file.
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Backend is an address plus health state the proxy may forward to. Created
// when a Deployment enters StatusRunning; destroyed when its owning
// Deployment is superseded or the Application is deleted.
type Backend struct {
	ContainerID string
	Host        string
	Port        int

	Healthy             bool
	HealthcheckPath     string
	ConsecutiveFailures int
}

// Addr returns the backend's dial address as host:port.
func (b *Backend) Addr() string {
	return b.Host + ":" + strconv.Itoa(b.Port)
}

// HealthURL returns the URL the health checker probes for this backend.
func (b *Backend) HealthURL() string {
	path := b.HealthcheckPath
	if path == "" {
		path = "/"
	}
	return "http://" + b.Host + ":" + strconv.Itoa(b.Port) + path
}

// Certificate is a cached TLS certificate for one or more domains. Cached
// on disk at a predictable path per primary domain.
type Certificate struct {
	Domains   []string
	ChainPEM  []byte
	KeyPEM    []byte
	NotAfter  time.Time
}

// DueForRenewal reports whether the certificate's remaining lifetime is
// under the given renewal window.
func (c *Certificate) DueForRenewal(now time.Time, window time.Duration) bool {
	return c.NotAfter.Sub(now) < window
}

// SSHKey is a private key usable for cloning SSH git remotes, scoped
// either globally or to one Application.
type SSHKey struct {
	ID            string  `json:"id" db:"id"`
	ApplicationID *string `json:"application_id,omitempty" db:"application_id"`
	Name          string  `json:"name" db:"name"`
	PrivateKeyPEM string  `json:"-" db:"private_key_pem"`
	IsGlobal      bool    `json:"is_global" db:"is_global"`
}
