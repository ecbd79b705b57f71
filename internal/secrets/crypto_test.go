package secrets

import (
	"strings"
	"testing"
)

const testSecret = "test-encryption-secret"

func TestEncryptDecryptRoundtrip(t *testing.T) {
	plaintext := "super-secret-database-password"

	encrypted, err := Encrypt(testSecret, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEncrypted(encrypted) {
		t.Fatalf("expected encrypted value to carry ENC: prefix, got %q", encrypted)
	}

	decrypted, err := Decrypt(testSecret, encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("roundtrip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptDifferentNoncesProduceDifferentCiphertext(t *testing.T) {
	plaintext := "same-value"

	first, err := Encrypt(testSecret, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	second, err := Encrypt(testSecret, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if first == second {
		t.Fatalf("expected different ciphertexts for repeated encryption of the same plaintext")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	encrypted, err := Encrypt(testSecret, "some value")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt("a-different-secret", encrypted); err == nil {
		t.Fatalf("expected decryption with the wrong key to fail")
	}
}

func TestEncryptUnicodeValue(t *testing.T) {
	plaintext := "pässwörd-日本語-🔑"

	encrypted, err := Encrypt(testSecret, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	decrypted, err := Decrypt(testSecret, encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("unicode roundtrip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestEncryptLargeValue(t *testing.T) {
	plaintext := strings.Repeat("x", 64*1024)

	encrypted, err := Encrypt(testSecret, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	decrypted, err := Decrypt(testSecret, encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("large value roundtrip mismatch (lengths %d vs %d)", len(decrypted), len(plaintext))
	}
}

func TestEncryptEmptyString(t *testing.T) {
	encrypted, err := Encrypt(testSecret, "")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	decrypted, err := Decrypt(testSecret, encrypted)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if decrypted != "" {
		t.Fatalf("expected empty plaintext, got %q", decrypted)
	}
}

func TestIsEncrypted(t *testing.T) {
	encrypted, _ := Encrypt(testSecret, "value")
	if !IsEncrypted(encrypted) {
		t.Fatalf("expected %q to be recognized as encrypted", encrypted)
	}
	if IsEncrypted("plain-value") {
		t.Fatalf("expected plain value to not be recognized as encrypted")
	}
	if IsEncrypted("") {
		t.Fatalf("expected empty string to not be recognized as encrypted")
	}
}

func TestDecryptIfEncryptedPassesThroughPlaintext(t *testing.T) {
	got, err := DecryptIfEncrypted(testSecret, "plain-value")
	if err != nil {
		t.Fatalf("DecryptIfEncrypted: %v", err)
	}
	if got != "plain-value" {
		t.Fatalf("expected plaintext passthrough, got %q", got)
	}
}

func TestDecryptIfEncryptedDecryptsCiphertext(t *testing.T) {
	encrypted, _ := Encrypt(testSecret, "secret-value")
	got, err := DecryptIfEncrypted(testSecret, encrypted)
	if err != nil {
		t.Fatalf("DecryptIfEncrypted: %v", err)
	}
	if got != "secret-value" {
		t.Fatalf("got %q, want %q", got, "secret-value")
	}
}

func TestEncryptIfKeyAvailableNoKeyPassesThrough(t *testing.T) {
	got, err := EncryptIfKeyAvailable("", "plain-value")
	if err != nil {
		t.Fatalf("EncryptIfKeyAvailable: %v", err)
	}
	if got != "plain-value" {
		t.Fatalf("expected passthrough with no key, got %q", got)
	}
}

func TestEncryptIfKeyAvailableWithKeyEncrypts(t *testing.T) {
	got, err := EncryptIfKeyAvailable(testSecret, "plain-value")
	if err != nil {
		t.Fatalf("EncryptIfKeyAvailable: %v", err)
	}
	if !IsEncrypted(got) {
		t.Fatalf("expected encrypted output when key is available, got %q", got)
	}
}

func TestDecryptRejectsMalformedCiphertext(t *testing.T) {
	if _, err := Decrypt(testSecret, "ENC:not-valid-base64!!!"); err == nil {
		t.Fatalf("expected error decrypting malformed ciphertext")
	}
}

func TestDecryptRejectsMissingPrefix(t *testing.T) {
	if _, err := Decrypt(testSecret, "no-prefix-here"); err == nil {
		t.Fatalf("expected error decrypting a value without the ENC: prefix")
	}
}
