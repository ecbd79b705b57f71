package acme

// account.go persists the ACME account's ECDSA key and the account URL
// (kid) across restarts, ported from original_source/src/proxy/acme.rs's
// AccountCredentials + load_or_create_account.

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type accountCredentials struct {
	Kid        string `json:"kid"`
	PrivateKey string `json:"private_key"` // base64url PKCS8 DER
}

func accountPath(cacheDir string) string {
	return filepath.Join(cacheDir, "account.json")
}

// loadAccount reads a previously persisted account, or returns
// (nil, "", os.ErrNotExist) if none is cached yet.
func loadAccount(cacheDir string) (*ecdsa.PrivateKey, string, error) {
	data, err := os.ReadFile(accountPath(cacheDir))
	if err != nil {
		return nil, "", err
	}

	var creds accountCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, "", fmt.Errorf("failed to parse acme account file: %w", err)
	}

	keyDER, err := base64.RawURLEncoding.DecodeString(creds.PrivateKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode acme account key: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse acme account key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, "", fmt.Errorf("acme account key is not ECDSA")
	}
	return ecKey, creds.Kid, nil
}

// createAccountKey generates a fresh P-256 account key. Saving it (with the
// kid returned by account registration) is the caller's responsibility,
// since the kid is only known after the registration round trip completes.
func createAccountKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate acme account key: %w", err)
	}
	return key, nil
}

func saveAccount(cacheDir string, key *ecdsa.PrivateKey, kid string) error {
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal acme account key: %w", err)
	}

	creds := accountCredentials{
		Kid:        kid,
		PrivateKey: base64URL(keyDER),
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal acme account credentials: %w", err)
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create acme cache directory: %w", err)
	}
	if err := os.WriteFile(accountPath(cacheDir), data, 0o600); err != nil {
		return fmt.Errorf("failed to write acme account file: %w", err)
	}
	return nil
}

