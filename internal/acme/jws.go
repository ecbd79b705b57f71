package acme

// jws.go implements ACME's flattened JWS request signing: ES256 over a
// protected header carrying either a full jwk (first account request) or a
// kid (every request after), ported from
// original_source/src/proxy/acme.rs's signed_request/jwk_thumbprint.

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

func base64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// jwk is the JSON Web Key representation of a P-256 public key, field order
// matching RFC 7638's thumbprint requirement (lexicographic: crv, kty, x, y).
type jwk struct {
	Crv string `json:"crv"`
	Kty string `json:"kty"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func publicJWK(pub *ecdsa.PublicKey) jwk {
	size := (pub.Curve.Params().BitSize + 7) / 8
	return jwk{
		Crv: "P-256",
		Kty: "EC",
		X:   base64URL(pub.X.FillBytes(make([]byte, size))),
		Y:   base64URL(pub.Y.FillBytes(make([]byte, size))),
	}
}

// jwkThumbprint computes the RFC 7638 thumbprint of pub: SHA-256 over the
// JSON object with keys in a fixed lexicographic order and no whitespace,
// exactly as the original builds it with a literal format string rather
// than a generic JSON encoder (Go's encoding/json with the struct field
// order above produces the identical byte sequence).
func jwkThumbprint(pub *ecdsa.PublicKey) (string, error) {
	encoded, err := json.Marshal(publicJWK(pub))
	if err != nil {
		return "", fmt.Errorf("failed to marshal jwk for thumbprint: %w", err)
	}
	hash := sha256.Sum256(encoded)
	return base64URL(hash[:]), nil
}

// signRequest builds a flattened JWS body for an ACME POST. When kid is
// empty, the protected header carries the full jwk (used for the very
// first request, account creation); otherwise it carries kid, per RFC 8555
// section 6.2.
func signRequest(key *ecdsa.PrivateKey, kid, nonce, url string, payload []byte) ([]byte, error) {
	protected := map[string]any{
		"alg":   "ES256",
		"nonce": nonce,
		"url":   url,
	}
	if kid == "" {
		protected["jwk"] = publicJWK(&key.PublicKey)
	} else {
		protected["kid"] = kid
	}

	protectedJSON, err := json.Marshal(protected)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal protected header: %w", err)
	}
	protectedB64 := base64URL(protectedJSON)
	payloadB64 := base64URL(payload)

	signingInput := protectedB64 + "." + payloadB64
	digest := sha256.Sum256([]byte(signingInput))

	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign acme request: %w", err)
	}

	size := (key.Curve.Params().BitSize + 7) / 8
	signature := append(leftPad(r, size), leftPad(s, size)...)

	body := map[string]string{
		"protected": protectedB64,
		"payload":   payloadB64,
		"signature": base64URL(signature),
	}
	return json.Marshal(body)
}

func leftPad(n *big.Int, size int) []byte {
	out := make([]byte, size)
	n.FillBytes(out)
	return out
}
