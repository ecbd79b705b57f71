// Package proxy is the reverse proxy: TLS termination plus per-Host
// forwarding to whatever backend the route table resolves, generalized
// from original_source/src/proxy/mod.rs's ProxyServer/HttpsProxyServer pair
// onto Go's net/http server model (one goroutine per accepted connection is
// the stdlib default, so there is no equivalent of the original's explicit
// tokio::spawn-per-connection loop to write).
package proxy

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// CertStore holds the HTTPS listener's certificates: a per-domain map
// populated by ACME issuance, plus a self-signed fallback generated at
// startup so the listener can bind immediately rather than waiting on the
// first successful ACME order. Grounded on original_source/src/proxy/tls.rs's
// CertStore, with the fallback promoted from "optional, set by the operator"
// to "always present" since nothing else can serve traffic before the first
// certificate arrives.
type CertStore struct {
	mu      sync.RWMutex
	domains map[string]*tls.Certificate
	fallback *tls.Certificate
}

// NewCertStore builds a store with a freshly generated self-signed fallback
// certificate.
func NewCertStore() (*CertStore, error) {
	fallback, err := generateSelfSigned()
	if err != nil {
		return nil, fmt.Errorf("failed to generate fallback certificate: %w", err)
	}
	return &CertStore{
		domains:  make(map[string]*tls.Certificate),
		fallback: fallback,
	}, nil
}

// Put installs or replaces the certificate for a set of domains (a single
// ACME issuance may cover several SANs; all of them resolve to the same
// *tls.Certificate value).
func (s *CertStore) Put(domains []string, cert *tls.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, domain := range domains {
		s.domains[domain] = cert
	}
}

// Get returns the certificate for domain, or the fallback if none is cached.
func (s *CertStore) Get(domain string) *tls.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cert, ok := s.domains[domain]; ok {
		return cert
	}
	return s.fallback
}

// GetCertificate implements tls.Config.GetCertificate, selecting a
// certificate by SNI server name.
func (s *CertStore) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return s.Get(hello.ServerName), nil
}

// HasCertificateFor reports whether a non-fallback certificate is cached
// for domain. It is part of acme.CertInstaller; the renewal loop itself
// picks what to renew from each cached certificate's expiry, not from this.
func (s *CertStore) HasCertificateFor(domain string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.domains[domain]
	return ok
}

func generateSelfSigned() (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "rivetr-self-signed-fallback"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create self-signed certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
