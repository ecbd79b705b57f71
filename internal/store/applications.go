package store

// applications.go contains all SQL query functions for the applications
// table. Raw SQL is used intentionally, as in the rest of this package: it
// keeps the query layer explicit and auditable rather than hidden behind
// ORM-generated statements.

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rivetr/controlplane/internal/models"
)

// ErrNotFound is returned when no row matches the requested id. Callers map
// this to HTTP 404.
var ErrNotFound = errors.New("record not found")

// InsertApplication writes a new application row. ID, Name and BuildType
// must already be populated by the caller.
func (store *Store) InsertApplication(app *models.Application) error {
	query := `
		INSERT INTO applications (
			id, name, git_url, branch, dockerfile_path, build_type, docker_image_ref, env,
			port, healthcheck_path, memory_limit_mb, cpu_limit,
			primary_domain, additional_domains, auto_rollback,
			max_rollback_versions, ssh_key_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now

	_, err := store.connection.Exec(query,
		app.ID, app.Name, app.GitURL, app.Branch, app.DockerfilePath, app.BuildType, app.DockerImageRef, app.Env,
		app.Port, app.HealthcheckPath, app.MemoryLimitMB, app.CPULimit,
		app.PrimaryDomain, joinDomains(app.AdditionalDomains), app.AutoRollback,
		app.MaxRollbackVersions, app.SSHKeyID, app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert application %q: %w", app.Name, err)
	}
	return nil
}

// GetApplication fetches a single application row by id.
func (store *Store) GetApplication(id string) (*models.Application, error) {
	query := applicationSelect + ` WHERE id = ?`
	row := store.connection.QueryRow(query, id)

	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get application %q: %w", id, err)
	}
	return app, nil
}

// ListApplications returns all application rows, newest first.
func (store *Store) ListApplications() ([]*models.Application, error) {
	query := applicationSelect + ` ORDER BY created_at DESC`

	rows, err := store.connection.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application row: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating application rows: %w", err)
	}
	return apps, nil
}

// DeleteApplication removes an application row by id together with its
// deployment rows. The caller is responsible for cancelling in-flight
// deployments, stopping containers and removing routes before calling this
// (the DELETE /api/applications/{id} handler does this, using
// internal/engine.CancelApplication for the in-flight deployments). The
// deployment rows are deleted by an explicit statement, since SQLite
// foreign keys are not enforced by default in this schema.
func (store *Store) DeleteApplication(id string) error {
	if _, err := store.connection.Exec(`DELETE FROM deployments WHERE application_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete deployments of application %q: %w", id, err)
	}
	result, err := store.connection.Exec(`DELETE FROM applications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete application %q: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

const applicationSelect = `
	SELECT
		id, name, git_url, branch, dockerfile_path, build_type, docker_image_ref, env,
		port, healthcheck_path, memory_limit_mb, cpu_limit,
		primary_domain, additional_domains, auto_rollback,
		max_rollback_versions, ssh_key_id, created_at, updated_at
	FROM applications
`

func scanApplication(row scanner) (*models.Application, error) {
	var app models.Application
	var additionalDomains string

	err := row.Scan(
		&app.ID, &app.Name, &app.GitURL, &app.Branch, &app.DockerfilePath, &app.BuildType, &app.DockerImageRef, &app.Env,
		&app.Port, &app.HealthcheckPath, &app.MemoryLimitMB, &app.CPULimit,
		&app.PrimaryDomain, &additionalDomains, &app.AutoRollback,
		&app.MaxRollbackVersions, &app.SSHKeyID, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	app.AdditionalDomains = splitDomains(additionalDomains)
	return &app, nil
}

func joinDomains(domains []string) string {
	return strings.Join(domains, ",")
}

func splitDomains(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

func requireRowsAffected(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for %q: %w", id, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
