package builder

import (
	"errors"
	"fmt"
	"os"

	"github.com/rivetr/controlplane/internal/models"
	"github.com/rivetr/controlplane/internal/store"
)

// sshKeyStore is the subset of *store.Store this package depends on,
// narrowed to a local interface so builder tests can supply a fake without
// pulling in a real database.
type sshKeyStore interface {
	GetSSHKey(id string) (*models.SSHKey, error)
	GetApplicationScopedSSHKey(applicationID string) (*models.SSHKey, error)
	GetGlobalSSHKey() (*models.SSHKey, error)
}

// ResolveSSHKey finds the private key to use for cloning app's git remote,
// in preference order: the key explicitly pinned on the application, then
// any key scoped to the application, then the single global key. Returns
// nil with no error when no key applies (a public repository).
func ResolveSSHKey(keyStore sshKeyStore, app *models.Application) (*models.SSHKey, error) {
	if app.SSHKeyID != nil {
		key, err := keyStore.GetSSHKey(*app.SSHKeyID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve pinned ssh key %q for application %q: %w", *app.SSHKeyID, app.Name, err)
		}
		return key, nil
	}

	if key, err := keyStore.GetApplicationScopedSSHKey(app.ID); err == nil {
		return key, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up application-scoped ssh key for %q: %w", app.Name, err)
	}

	if key, err := keyStore.GetGlobalSSHKey(); err == nil {
		return key, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up global ssh key: %w", err)
	}

	return nil, nil
}

// writeTempKeyFile writes a private key PEM to a 0600 temp file so it can be
// passed to git via GIT_SSH_COMMAND without ever touching argv or env vars
// with the key material itself. The caller must remove the returned path.
func writeTempKeyFile(pem string) (string, error) {
	file, err := os.CreateTemp("", "rivetr-ssh-key-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp ssh key file: %w", err)
	}
	defer file.Close()

	if err := file.Chmod(0o600); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to chmod temp ssh key file: %w", err)
	}
	if _, err := file.WriteString(pem); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write temp ssh key file: %w", err)
	}
	return file.Name(), nil
}
