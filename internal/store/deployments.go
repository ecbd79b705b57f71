package store

// deployments.go contains all SQL query functions for the deployments
// table. Each function is a method on *Store and operates on a single
// table, mirroring the per-table file split the rest of this package uses.

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rivetr/controlplane/internal/models"
)

// InsertDeployment writes a new deployment row. ID, ApplicationID and
// Status must already be populated by the caller.
func (store *Store) InsertDeployment(deployment *models.Deployment) error {
	query := `
		INSERT INTO deployments (
			id, application_id, status, container_id, image_tag, commit_sha,
			is_auto_rollback, rollback_from_deployment_id, error_message,
			started_at, finished_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	deployment.CreatedAt = now
	deployment.UpdatedAt = now
	if deployment.StartedAt.IsZero() {
		deployment.StartedAt = now
	}

	_, err := store.connection.Exec(query,
		deployment.ID, deployment.ApplicationID, deployment.Status,
		deployment.ContainerID, deployment.ImageTag, deployment.CommitSHA,
		deployment.IsAutoRollback, deployment.RollbackFromDeploymentID, deployment.ErrorMessage,
		deployment.StartedAt, deployment.FinishedAt, deployment.CreatedAt, deployment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deployment %q: %w", deployment.ID, err)
	}
	return nil
}

// GetDeployment fetches a single deployment row by id.
func (store *Store) GetDeployment(id string) (*models.Deployment, error) {
	row := store.connection.QueryRow(deploymentSelect+` WHERE id = ?`, id)

	deployment, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %q: %w", id, err)
	}
	return deployment, nil
}

// ListDeploymentsForApplication returns all deployments for one application,
// newest first.
func (store *Store) ListDeploymentsForApplication(applicationID string) ([]*models.Deployment, error) {
	rows, err := store.connection.Query(
		deploymentSelect+` WHERE application_id = ? ORDER BY created_at DESC`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments for application %q: %w", applicationID, err)
	}
	defer rows.Close()
	return scanDeploymentRows(rows)
}

// GetRunningDeployment returns the single deployment currently in
// StatusRunning for an application, or ErrNotFound if there is none. The
// "at most one running deployment per application" invariant means this
// query is never expected to match more than one row.
func (store *Store) GetRunningDeployment(applicationID string) (*models.Deployment, error) {
	row := store.connection.QueryRow(
		deploymentSelect+` WHERE application_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		applicationID, models.StatusRunning)

	deployment, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get running deployment for application %q: %w", applicationID, err)
	}
	return deployment, nil
}

// UpdateStatus sets the status and updated_at timestamp for a deployment.
// This is the most frequent write: called at each state-machine transition.
func (store *Store) UpdateStatus(id string, status models.DeploymentStatus) error {
	result, err := store.connection.Exec(
		`UPDATE deployments SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update status for deployment %q: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

// MarkFailed sets status to StatusFailed, records the error message, and
// stamps finished_at.
func (store *Store) MarkFailed(id string, errorMessage string) error {
	now := time.Now().UTC()
	result, err := store.connection.Exec(
		`UPDATE deployments SET status = ?, error_message = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		models.StatusFailed, errorMessage, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark deployment %q failed: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

// MarkRunning sets status to StatusRunning along with the container id and
// image tag the engine just committed.
func (store *Store) MarkRunning(id string, containerID string, imageTag string) error {
	now := time.Now().UTC()
	result, err := store.connection.Exec(
		`UPDATE deployments SET status = ?, container_id = ?, image_tag = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
		models.StatusRunning, containerID, imageTag, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark deployment %q running: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

// MarkStopped sets status to StatusStopped, used when a newer deployment
// or an auto-rollback supersedes this one.
func (store *Store) MarkStopped(id string) error {
	result, err := store.connection.Exec(
		`UPDATE deployments SET status = ?, updated_at = ? WHERE id = ?`,
		models.StatusStopped, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark deployment %q stopped: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

// SetImageTag persists the image tag produced by the building step, ahead
// of the starting step that consumes it.
func (store *Store) SetImageTag(id string, imageTag string) error {
	result, err := store.connection.Exec(
		`UPDATE deployments SET image_tag = ?, updated_at = ? WHERE id = ?`,
		imageTag, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set image tag for deployment %q: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

const deploymentSelect = `
	SELECT
		id, application_id, status, container_id, image_tag, commit_sha,
		is_auto_rollback, rollback_from_deployment_id, error_message,
		started_at, finished_at, created_at, updated_at
	FROM deployments
`

func scanDeploymentRows(rows *sql.Rows) ([]*models.Deployment, error) {
	var deployments []*models.Deployment
	for rows.Next() {
		deployment, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment row: %w", err)
		}
		deployments = append(deployments, deployment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployment rows: %w", err)
	}
	return deployments, nil
}

func scanDeployment(row scanner) (*models.Deployment, error) {
	var deployment models.Deployment
	err := row.Scan(
		&deployment.ID, &deployment.ApplicationID, &deployment.Status,
		&deployment.ContainerID, &deployment.ImageTag, &deployment.CommitSHA,
		&deployment.IsAutoRollback, &deployment.RollbackFromDeploymentID, &deployment.ErrorMessage,
		&deployment.StartedAt, &deployment.FinishedAt, &deployment.CreatedAt, &deployment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &deployment, nil
}
