// Package secrets implements at-rest encryption for Application environment
// variables, ported function-for-function from the original Rust
// implementation's crypto module: AES-256-GCM with a PBKDF2-HMAC-SHA256
// derived key and a fixed salt, values stored as "ENC:"-prefixed base64.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength         = 32
	nonceLength       = 12
	pbkdf2Iterations  = 100_000
	pbkdf2Salt        = "rivetr-env-var-encryption-v1"
	encryptedPrefix   = "ENC:"
)

// ErrInvalidCiphertext is returned when a value carries the ENC: prefix but
// cannot be decoded or is too short to contain a nonce.
var ErrInvalidCiphertext = errors.New("invalid encrypted value")

// deriveKey stretches secret into a 32-byte AES-256 key with PBKDF2-HMAC-SHA256
// over a fixed, application-specific salt. The salt is fixed (not random
// per-value) because this derives one key per deployment of the control
// plane, not one key per secret; the value-level uniqueness guarantee comes
// from the random nonce in Encrypt, not the key derivation.
func deriveKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), []byte(pbkdf2Salt), pbkdf2Iterations, keyLength, sha256.New)
}

// Encrypt encrypts plaintext with a key derived from secret and returns it
// as "ENC:" followed by base64(nonce || ciphertext).
func Encrypt(secret, plaintext string) (string, error) {
	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", fmt.Errorf("failed to construct aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to construct gcm mode: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	payload := append(nonce, ciphertext...)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt. value must carry the "ENC:" prefix.
func Decrypt(secret, value string) (string, error) {
	if !IsEncrypted(value) {
		return "", fmt.Errorf("%w: missing %q prefix", ErrInvalidCiphertext, encryptedPrefix)
	}

	payload, err := base64.StdEncoding.DecodeString(value[len(encryptedPrefix):])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(payload) < nonceLength {
		return "", fmt.Errorf("%w: ciphertext shorter than nonce", ErrInvalidCiphertext)
	}

	nonce, ciphertext := payload[:nonceLength], payload[nonceLength:]

	block, err := aes.NewCipher(deriveKey(secret))
	if err != nil {
		return "", fmt.Errorf("failed to construct aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to construct gcm mode: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value carries the ENC: prefix this package
// writes. It does not validate that the remainder actually decrypts.
func IsEncrypted(value string) bool {
	return len(value) >= len(encryptedPrefix) && value[:len(encryptedPrefix)] == encryptedPrefix
}

// DecryptIfEncrypted returns value unchanged when it is plaintext, and its
// decrypted form when it carries the ENC: prefix. Used when applying an
// Application's stored env vars to a container: secrets stay at rest as
// ciphertext in SQLite and are only plaintext in the container's own
// environment.
func DecryptIfEncrypted(secret, value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	return Decrypt(secret, value)
}

// EncryptIfKeyAvailable encrypts value when secret is non-empty, and returns
// it unchanged otherwise. Used when persisting an Application's configured
// env vars: operators who have not set ENV_ENCRYPTION_SECRET get plaintext
// storage rather than a startup failure, matching the original
// implementation's graceful-degradation behavior.
func EncryptIfKeyAvailable(secret, value string) (string, error) {
	if secret == "" {
		return value, nil
	}
	return Encrypt(secret, value)
}
