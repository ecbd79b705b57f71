// Package store manages the SQLite database connection, schema migrations,
// and the repository methods the API and engine use to read/write
// Application and Deployment rows. It exposes a Store struct that wraps
// *sql.DB and is passed via dependency injection to any layer that needs
// database access.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	// The underscore import registers the go-sqlite3 driver with
	// database/sql. Without it sql.Open("sqlite3", ...) returns an
	// "unknown driver" error; the package itself is never referenced,
	// only its init() side effect is needed.
	_ "github.com/mattn/go-sqlite3"
)

// Store wraps *sql.DB. Wrapping rather than embedding keeps the public
// surface area intentional: only methods defined on this struct are exposed
// to callers, so if the underlying driver ever changes, only this package
// changes.
type Store struct {
	connection *sql.DB
	logger     *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS applications (
    id                     TEXT PRIMARY KEY,
    name                   TEXT UNIQUE NOT NULL,
    git_url                TEXT NOT NULL DEFAULT '',
    branch                 TEXT NOT NULL DEFAULT 'main',
    dockerfile_path        TEXT NOT NULL DEFAULT 'Dockerfile',
    build_type             TEXT NOT NULL,
    docker_image_ref       TEXT NOT NULL DEFAULT '',
    env                    TEXT,
    port                   INTEGER NOT NULL DEFAULT 8080,
    healthcheck_path       TEXT NOT NULL DEFAULT '',
    memory_limit_mb        INTEGER NOT NULL DEFAULT 0,
    cpu_limit              REAL NOT NULL DEFAULT 0,
    primary_domain         TEXT NOT NULL DEFAULT '',
    additional_domains     TEXT NOT NULL DEFAULT '',
    auto_rollback          INTEGER NOT NULL DEFAULT 0,
    max_rollback_versions  INTEGER NOT NULL DEFAULT 3,
    ssh_key_id             TEXT,
    created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS deployments (
    id                           TEXT PRIMARY KEY,
    application_id               TEXT NOT NULL REFERENCES applications(id),
    status                       TEXT NOT NULL,
    container_id                 TEXT,
    image_tag                    TEXT,
    commit_sha                   TEXT,
    is_auto_rollback             INTEGER NOT NULL DEFAULT 0,
    rollback_from_deployment_id  TEXT,
    error_message                TEXT,
    started_at                   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    finished_at                  DATETIME,
    created_at                   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at                   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_deployments_application_id ON deployments(application_id);

CREATE TABLE IF NOT EXISTS ssh_keys (
    id              TEXT PRIMARY KEY,
    application_id  TEXT,
    name            TEXT NOT NULL,
    private_key_pem TEXT NOT NULL,
    is_global       INTEGER NOT NULL DEFAULT 0
);
`

// migrate runs the schema DDL against the database. IF NOT EXISTS makes it
// safe to run on every startup.
func (store *Store) migrate() error {
	_, err := store.connection.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema migration: %w", err)
	}
	return nil
}

// Open opens the SQLite database at the given file path, runs the schema
// migration, and returns a ready-to-use *Store. The directory for the
// database file is created if it does not exist.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}

	connection, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database at %q: %w", dbPath, err)
	}

	// SQLite does not support concurrent writes from multiple connections;
	// capping the pool at 1 prevents "database is locked" errors.
	connection.SetMaxOpenConns(1)

	store := &Store{connection: connection, logger: logger}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	logger.Info("database opened and schema migrated", "path", dbPath)
	return store, nil
}

// Close releases the database connection pool.
func (store *Store) Close() error {
	return store.connection.Close()
}

// Ping verifies the database connection is alive, used by the control
// API's health endpoint.
func (store *Store) Ping(ctx context.Context) error {
	return store.connection.PingContext(ctx)
}

// scanner is satisfied by both *sql.Row and *sql.Rows, letting scan helpers
// work with QueryRow and Query without duplicating logic.
type scanner interface {
	Scan(dest ...any) error
}
