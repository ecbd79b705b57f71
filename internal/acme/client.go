package acme

// client.go implements the ACME v2 (RFC 8555) operations needed to issue a
// certificate via HTTP-01: directory discovery, nonce management, account
// registration/loading, order creation, authorization/challenge handling,
// CSR generation, and certificate download. Ported operation-for-operation
// from original_source/src/proxy/acme.rs's AcmeClient.

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// acmeRateLimit caps outbound requests to the ACME server at a steady 5/s
// with a small burst, well under Let's Encrypt's published rate limits;
// it exists so a retry storm across several domains renewing at once never
// looks like abuse to the directory.
var acmeRateLimit = rate.NewLimiter(rate.Limit(5), 10)

// Staging and production directory URLs, matching the original's constants.
const (
	LetsEncryptStaging    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	LetsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"
)

// Config mirrors internal/config.ACMEConfig; kept separate so this package
// has no dependency on internal/config.
type Config struct {
	Email     string
	Staging   bool
	CacheDir  string
	PollEvery time.Duration
	PollTries int
}

type directory struct {
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
}

type orderStatus string

const (
	orderPending    orderStatus = "pending"
	orderReady      orderStatus = "ready"
	orderProcessing orderStatus = "processing"
	orderValid      orderStatus = "valid"
	orderInvalid    orderStatus = "invalid"
)

type order struct {
	Status         orderStatus `json:"status"`
	Authorizations []string    `json:"authorizations"`
	Finalize       string      `json:"finalize"`
	Certificate    string      `json:"certificate"`
}

type identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type authorization struct {
	Status     string      `json:"status"`
	Identifier identifier  `json:"identifier"`
	Challenges []challenge `json:"challenges"`
}

type challenge struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// CertificateResult is the output of a successful issuance.
type CertificateResult struct {
	PrivateKeyPEM       []byte
	CertificateChainPEM []byte
	Domains             []string
}

// Client drives certificate issuance against one ACME directory.
type Client struct {
	cfg        Config
	http       *http.Client
	challenges *ChallengeStore

	mu         sync.Mutex
	nonce      string // Replay-Nonce of the most recent response, guarded by mu
	dir        directory
	accountKey *ecdsa.PrivateKey
	accountKid string
}

// New creates a Client, fetching the directory and loading or creating the
// account. Ported from the original's AcmeClient::new.
func New(ctx context.Context, cfg Config, challenges *ChallengeStore) (*Client, error) {
	if cfg.PollEvery == 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.PollTries == 0 {
		cfg.PollTries = 30
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create acme cache directory: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: 30 * time.Second},
		challenges: challenges,
	}

	if err := c.fetchDirectory(ctx); err != nil {
		return nil, err
	}
	if err := c.loadOrCreateAccount(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) directoryURL() string {
	if c.cfg.Staging {
		return LetsEncryptStaging
	}
	return LetsEncryptProduction
}

func (c *Client) fetchDirectory(ctx context.Context) error {
	if err := acmeRateLimit.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.directoryURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to build directory request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch acme directory: %w", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&c.dir); err != nil {
		return fmt.Errorf("failed to parse acme directory: %w", err)
	}
	return nil
}

func (c *Client) getNonce(ctx context.Context) (string, error) {
	if err := acmeRateLimit.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.dir.NewNonce, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build nonce request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	defer resp.Body.Close()

	nonce := resp.Header.Get("Replay-Nonce")
	if nonce == "" {
		return "", errors.New("acme server returned no nonce")
	}
	return nonce, nil
}

func (c *Client) loadOrCreateAccount(ctx context.Context) error {
	key, kid, err := loadAccount(c.cfg.CacheDir)
	if err == nil {
		c.accountKey = key
		c.accountKid = kid
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load acme account: %w", err)
	}

	key, err = createAccountKey()
	if err != nil {
		return err
	}
	c.accountKey = key

	payload, err := json.Marshal(map[string]any{
		"termsOfServiceAgreed": true,
		"contact":              []string{"mailto:" + c.cfg.Email},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal account registration payload: %w", err)
	}

	resp, err := c.signedPost(ctx, c.dir.NewAccount, "", payload)
	if err != nil {
		return fmt.Errorf("failed to register acme account: %w", err)
	}
	defer resp.Body.Close()

	kid = resp.Header.Get("Location")
	if kid == "" {
		return errors.New("acme account registration returned no account url")
	}
	c.accountKid = kid

	return saveAccount(c.cfg.CacheDir, key, kid)
}

// signedPost sends a JWS-signed POST request to url. kid empty means "sign
// with the full jwk" (only valid for account creation); non-empty uses kid.
// The Replay-Nonce of the previous response is used when one is held;
// otherwise a fresh nonce is fetched from newNonce.
func (c *Client) signedPost(ctx context.Context, url, kid string, payload []byte) (*http.Response, error) {
	c.mu.Lock()
	nonce := c.nonce
	c.nonce = ""
	c.mu.Unlock()
	if nonce == "" {
		fresh, err := c.getNonce(ctx)
		if err != nil {
			return nil, err
		}
		nonce = fresh
	}

	body, err := signRequest(c.accountKey, kid, nonce, url, payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build signed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/jose+json")

	if err := acmeRateLimit.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send signed request to %s: %w", url, err)
	}
	if next := resp.Header.Get("Replay-Nonce"); next != "" {
		c.mu.Lock()
		c.nonce = next
		c.mu.Unlock()
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("acme request to %s failed with status %d: %s", url, resp.StatusCode, string(errBody))
	}
	return resp, nil
}

func (c *Client) authenticatedPost(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	return c.signedPost(ctx, url, c.accountKid, payload)
}

// RequestCertificate runs the full order -> authorize -> finalize ->
// download flow for domains, returning the new chain and private key.
func (c *Client) RequestCertificate(ctx context.Context, domains []string) (*CertificateResult, error) {
	identifiers := make([]identifier, len(domains))
	for i, d := range domains {
		identifiers[i] = identifier{Type: "dns", Value: d}
	}
	payload, err := json.Marshal(map[string]any{"identifiers": identifiers})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal new-order payload: %w", err)
	}

	resp, err := c.authenticatedPost(ctx, c.dir.NewOrder, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	orderURL := resp.Header.Get("Location")
	var ord order
	decodeErr := json.NewDecoder(resp.Body).Decode(&ord)
	resp.Body.Close()
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to parse order: %w", decodeErr)
	}

	for _, authURL := range ord.Authorizations {
		if err := c.processAuthorization(ctx, authURL); err != nil {
			return nil, err
		}
	}

	if _, err := c.pollOrder(ctx, orderURL, orderReady); err != nil {
		return nil, err
	}

	privateKeyPEM, csrDER, err := generateCSR(domains)
	if err != nil {
		return nil, err
	}

	finalizePayload, err := json.Marshal(map[string]string{"csr": base64URL(csrDER)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal finalize payload: %w", err)
	}
	finResp, err := c.authenticatedPost(ctx, ord.Finalize, finalizePayload)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize order: %w", err)
	}
	finResp.Body.Close()

	finalOrder, err := c.pollOrder(ctx, orderURL, orderValid)
	if err != nil {
		return nil, err
	}
	if finalOrder.Certificate == "" {
		return nil, errors.New("acme order has no certificate url")
	}

	certResp, err := c.authenticatedPost(ctx, finalOrder.Certificate, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download certificate: %w", err)
	}
	defer certResp.Body.Close()
	chainPEM, err := io.ReadAll(certResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate chain: %w", err)
	}

	return &CertificateResult{
		PrivateKeyPEM:       privateKeyPEM,
		CertificateChainPEM: chainPEM,
		Domains:             domains,
	}, nil
}

func (c *Client) processAuthorization(ctx context.Context, authURL string) error {
	auth, err := c.fetchAuthorization(ctx, authURL)
	if err != nil {
		return err
	}
	if auth.Status == "valid" {
		return nil
	}

	var httpChallenge *challenge
	for i := range auth.Challenges {
		if auth.Challenges[i].Type == "http-01" {
			httpChallenge = &auth.Challenges[i]
			break
		}
	}
	if httpChallenge == nil {
		return fmt.Errorf("no http-01 challenge offered for %s", auth.Identifier.Value)
	}

	thumbprint, err := jwkThumbprint(&c.accountKey.PublicKey)
	if err != nil {
		return err
	}
	keyAuth := httpChallenge.Token + "." + thumbprint

	c.challenges.Add(httpChallenge.Token, keyAuth)
	defer c.challenges.Remove(httpChallenge.Token)

	resp, err := c.authenticatedPost(ctx, httpChallenge.URL, []byte("{}"))
	if err != nil {
		return fmt.Errorf("failed to notify challenge ready for %s: %w", auth.Identifier.Value, err)
	}
	resp.Body.Close()

	for attempt := 0; attempt < c.cfg.PollTries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.PollEvery):
		}

		auth, err = c.fetchAuthorization(ctx, authURL)
		if err != nil {
			return err
		}
		switch auth.Status {
		case "valid":
			return nil
		case "invalid":
			return fmt.Errorf("authorization for %s became invalid", auth.Identifier.Value)
		}
	}
	return fmt.Errorf("authorization for %s timed out", auth.Identifier.Value)
}

func (c *Client) fetchAuthorization(ctx context.Context, authURL string) (*authorization, error) {
	resp, err := c.authenticatedPost(ctx, authURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch authorization: %w", err)
	}
	defer resp.Body.Close()

	var auth authorization
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, fmt.Errorf("failed to parse authorization: %w", err)
	}
	return &auth, nil
}

func (c *Client) pollOrder(ctx context.Context, orderURL string, expected orderStatus) (*order, error) {
	for attempt := 0; attempt < c.cfg.PollTries; attempt++ {
		resp, err := c.authenticatedPost(ctx, orderURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to poll order: %w", err)
		}
		var ord order
		decodeErr := json.NewDecoder(resp.Body).Decode(&ord)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to parse order: %w", decodeErr)
		}

		if ord.Status == expected || ord.Status == orderValid {
			return &ord, nil
		}
		if ord.Status == orderInvalid {
			return nil, errors.New("acme order became invalid")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.PollEvery):
		}
	}
	return nil, errors.New("acme order polling timed out")
}

func generateCSR(domains []string) (privateKeyPEM, csrDER []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate certificate key: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal certificate key: %w", err)
	}
	privateKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})

	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domains[0]},
		DNSNames: domains,
	}
	csrDER, err = x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate signing request: %w", err)
	}
	return privateKeyPEM, csrDER, nil
}

// SaveCertificate persists result under <cache_dir>/certs/<primary_domain>/,
// mode 0600, and returns the directory it wrote to.
func (c *Client) SaveCertificate(result *CertificateResult) (string, error) {
	if len(result.Domains) == 0 {
		return "", errors.New("certificate result has no domains")
	}
	certDir := filepath.Join(c.cfg.CacheDir, "certs", result.Domains[0])
	if err := os.MkdirAll(certDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create certificate directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(certDir, "fullchain.pem"), result.CertificateChainPEM, 0o600); err != nil {
		return "", fmt.Errorf("failed to write certificate chain: %w", err)
	}
	if err := os.WriteFile(filepath.Join(certDir, "privkey.pem"), result.PrivateKeyPEM, 0o600); err != nil {
		return "", fmt.Errorf("failed to write certificate private key: %w", err)
	}
	return certDir, nil
}

// LoadCertificate reads a cached certificate directory into a *tls.Certificate.
func LoadCertificate(certDir string) (*tls.Certificate, error) {
	chainPEM, err := os.ReadFile(filepath.Join(certDir, "fullchain.pem"))
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate chain: %w", err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(certDir, "privkey.pem"))
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate key: %w", err)
	}
	cert, err := tls.X509KeyPair(chainPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate pair: %w", err)
	}
	return &cert, nil
}

// HasCertificate reports whether a cached certificate exists for domain.
func (c *Client) HasCertificate(domain string) bool {
	_, err := os.Stat(filepath.Join(c.cfg.CacheDir, "certs", domain, "fullchain.pem"))
	return err == nil
}

// CertDir returns the cache directory for domain's certificate.
func (c *Client) CertDir(domain string) string {
	return filepath.Join(c.cfg.CacheDir, "certs", domain)
}

// CachedDomains lists every domain with a certificate directory on disk.
func (c *Client) CachedDomains() ([]string, error) {
	certsDir := filepath.Join(c.cfg.CacheDir, "certs")
	entries, err := os.ReadDir(certsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cached certificate domains: %w", err)
	}

	domains := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			domains = append(domains, entry.Name())
		}
	}
	return domains, nil
}
