package builder

// clone.go shells out to the system git binary rather than a pure-Go git
// library: the native binary is faster, handles protocol edge cases
// (shallow clone, SSH host key handling) the control plane would otherwise
// have to reimplement, and keeps the dependency surface small for a single
// fire-and-forget operation. The runtime image this control plane ships in
// must include git.

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/rivetr/controlplane/internal/models"
)

// CloneRepository performs a shallow, single-branch clone of app's git
// remote into destinationDir, which must not already exist. If key is
// non-nil its private key is written to a 0600 temp file for the duration
// of the clone and used via GIT_SSH_COMMAND, then removed regardless of
// outcome. Clone progress (git writes it to stderr) is copied to logWriter.
func CloneRepository(ctx context.Context, app *models.Application, key *models.SSHKey, destinationDir string, logWriter io.Writer) error {
	branch := app.Branch
	if branch == "" {
		branch = "main"
	}

	cmd := exec.CommandContext(ctx, "git", "clone",
		"--depth", "1",
		"--single-branch",
		"--branch", branch,
		app.GitURL,
		destinationDir,
	)
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter

	if key != nil {
		keyPath, err := writeTempKeyFile(key.PrivateKeyPEM)
		if err != nil {
			return err
		}
		defer os.Remove(keyPath)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new", keyPath))
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone failed for %q (branch %q): %w", app.GitURL, branch, err)
	}
	return nil
}
