package acme

// renew.go runs the background renewal loop, ported from
// original_source/src/proxy/acme.rs's CertificateRenewalManager. The
// original's parse_cert_expiry is a stub that always returns None, so its
// renewal loop only ever acts on a fixed calendar interval; this port parses
// the real certificate with crypto/x509 and renews based on actual
// expiration, which is the behavior the stub was clearly meant to reach.

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CertInstaller is the subset of proxy.CertStore the renewal manager needs,
// kept as a local interface so this package does not import internal/proxy.
type CertInstaller interface {
	Put(domains []string, cert *tls.Certificate)
	HasCertificateFor(domain string) bool
}

// RenewalManager periodically checks cached certificates for expiry and
// re-issues any that are due, installing the result into a CertInstaller.
type RenewalManager struct {
	client     *Client
	certs      CertInstaller
	logger     *slog.Logger
	checkEvery time.Duration
	renewDays  int
}

// NewRenewalManager builds a manager. checkEvery is how often the loop
// wakes up to scan cached certificates; renewDays is how close to
// expiration a certificate must be before it is renewed.
func NewRenewalManager(client *Client, certs CertInstaller, logger *slog.Logger, checkEvery time.Duration, renewDays int) *RenewalManager {
	if checkEvery == 0 {
		checkEvery = 12 * time.Hour
	}
	if renewDays == 0 {
		renewDays = 30
	}
	return &RenewalManager{
		client:     client,
		certs:      certs,
		logger:     logger,
		checkEvery: checkEvery,
		renewDays:  renewDays,
	}
}

// Run blocks, checking for renewals every checkEvery until ctx is canceled.
func (m *RenewalManager) Run(ctx context.Context) {
	m.checkRenewals(ctx)

	ticker := time.NewTicker(m.checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkRenewals(ctx)
		}
	}
}

func (m *RenewalManager) checkRenewals(ctx context.Context) {
	domains, err := m.client.CachedDomains()
	if err != nil {
		m.logger.Error("failed to list cached certificate domains", "error", err)
		return
	}

	for _, domain := range domains {
		if err := m.checkDomainRenewal(ctx, domain); err != nil {
			m.logger.Error("certificate renewal check failed", "domain", domain, "error", err)
		}
	}
}

func (m *RenewalManager) checkDomainRenewal(ctx context.Context, domain string) error {
	certDir := m.client.CertDir(domain)
	notAfter, err := certificateExpiry(certDir)
	if err != nil {
		return err
	}

	renewAt := notAfter.Add(-time.Duration(m.renewDays) * 24 * time.Hour)
	if time.Now().Before(renewAt) {
		return nil
	}

	m.logger.Info("renewing certificate", "domain", domain, "expires", notAfter)

	domains, err := domainsFromChain(certDir)
	if err != nil {
		return err
	}

	result, err := m.client.RequestCertificate(ctx, domains)
	if err != nil {
		return err
	}
	if _, err := m.client.SaveCertificate(result); err != nil {
		return err
	}

	cert, err := LoadCertificate(m.client.CertDir(result.Domains[0]))
	if err != nil {
		return err
	}
	m.certs.Put(result.Domains, cert)

	m.logger.Info("certificate renewed", "domain", domain)
	return nil
}

// certificateExpiry parses the leaf certificate's real NotAfter timestamp.
func certificateExpiry(certDir string) (time.Time, error) {
	chainPEM, err := os.ReadFile(filepath.Join(certDir, "fullchain.pem"))
	if err != nil {
		return time.Time{}, err
	}
	cert, err := leafCertificate(chainPEM)
	if err != nil {
		return time.Time{}, err
	}
	return cert.NotAfter, nil
}

// DomainsFromChain reads the domains (SANs, falling back to the subject
// CommonName) a cached certificate directory's leaf certificate covers.
// Exported for cmd/controlplane/main.go to preload the CertStore at startup
// with the same domain set a renewal would install.
func DomainsFromChain(certDir string) ([]string, error) {
	return domainsFromChain(certDir)
}

func domainsFromChain(certDir string) ([]string, error) {
	chainPEM, err := os.ReadFile(filepath.Join(certDir, "fullchain.pem"))
	if err != nil {
		return nil, err
	}
	cert, err := leafCertificate(chainPEM)
	if err != nil {
		return nil, err
	}
	if len(cert.DNSNames) > 0 {
		return cert.DNSNames, nil
	}
	return []string{cert.Subject.CommonName}, nil
}

func leafCertificate(chainPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(chainPEM)
	if block == nil {
		return nil, errors.New("no pem block found in certificate chain")
	}
	return x509.ParseCertificate(block.Bytes)
}
