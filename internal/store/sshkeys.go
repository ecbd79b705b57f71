package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rivetr/controlplane/internal/models"
)

// InsertSSHKey writes a new ssh key row.
func (store *Store) InsertSSHKey(key *models.SSHKey) error {
	_, err := store.connection.Exec(
		`INSERT INTO ssh_keys (id, application_id, name, private_key_pem, is_global) VALUES (?, ?, ?, ?, ?)`,
		key.ID, key.ApplicationID, key.Name, key.PrivateKeyPEM, key.IsGlobal,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ssh key %q: %w", key.Name, err)
	}
	return nil
}

// GetSSHKey fetches a single ssh key row by id.
func (store *Store) GetSSHKey(id string) (*models.SSHKey, error) {
	row := store.connection.QueryRow(
		`SELECT id, application_id, name, private_key_pem, is_global FROM ssh_keys WHERE id = ?`, id)
	key, err := scanSSHKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ssh key %q: %w", id, err)
	}
	return key, nil
}

// GetApplicationScopedSSHKey returns an ssh key scoped to the given
// application, if one exists.
func (store *Store) GetApplicationScopedSSHKey(applicationID string) (*models.SSHKey, error) {
	row := store.connection.QueryRow(
		`SELECT id, application_id, name, private_key_pem, is_global FROM ssh_keys WHERE application_id = ? LIMIT 1`,
		applicationID)
	key, err := scanSSHKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ssh key for application %q: %w", applicationID, err)
	}
	return key, nil
}

// GetGlobalSSHKey returns the single global ssh key, if one exists.
func (store *Store) GetGlobalSSHKey() (*models.SSHKey, error) {
	row := store.connection.QueryRow(
		`SELECT id, application_id, name, private_key_pem, is_global FROM ssh_keys WHERE is_global = 1 LIMIT 1`)
	key, err := scanSSHKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global ssh key: %w", err)
	}
	return key, nil
}

func scanSSHKey(row scanner) (*models.SSHKey, error) {
	var key models.SSHKey
	err := row.Scan(&key.ID, &key.ApplicationID, &key.Name, &key.PrivateKeyPEM, &key.IsGlobal)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
