package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rivetr/controlplane/internal/models"
	"github.com/rivetr/controlplane/internal/routetable"
)

const acmeChallengePrefix = "/.well-known/acme-challenge/"

// challengeStore is the subset of internal/acme this package depends on,
// narrowed to a local interface so the proxy never imports the ACME client
// directly (symmetric with internal/builder's sshKeyStore pattern).
type challengeStore interface {
	Get(token string) (keyAuthorization string, ok bool)
}

// Handler is the http.Handler shared by both the HTTP and HTTPS listeners.
// Grounded on original_source/src/proxy/handler.rs's ProxyHandler, with
// hyper's explicit per-connection service_fn replaced by net/http's
// ServeHTTP (the stdlib server already gives one goroutine per connection).
type Handler struct {
	table      *routetable.Table
	challenges challengeStore
	transport  *http.Transport
	logger     *slog.Logger
	scheme     string // "http" or "https", set per listener
}

// NewHandler constructs a Handler. scheme is the value written into
// X-Forwarded-Proto, so the HTTP and HTTPS listeners each get their own
// Handler instance sharing the same table/challenges/transport.
func NewHandler(table *routetable.Table, challenges challengeStore, logger *slog.Logger, scheme string) *Handler {
	return &Handler{
		table:      table,
		challenges: challenges,
		logger:     logger,
		scheme:     scheme,
		transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := extractHost(r)

	if strings.HasPrefix(r.URL.Path, acmeChallengePrefix) {
		h.serveACMEChallenge(w, r)
		return
	}

	backend, ok := h.table.Lookup(host)
	if !ok {
		h.errorResponse(w, http.StatusNotFound, fmt.Sprintf("no application found for host: %s", host))
		return
	}
	if !backend.Healthy {
		h.errorResponse(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	if isWebSocketUpgrade(r) {
		h.proxyWebSocket(w, r, backend)
		return
	}

	h.forward(w, r, backend)
}

func (h *Handler) serveACMEChallenge(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, acmeChallengePrefix)
	keyAuth, ok := h.challenges.Get(token)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(keyAuth))
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request, backend *models.Backend) {
	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	outReq.URL.Scheme = "http"
	outReq.URL.Host = backend.Addr()
	outReq.Host = backend.Addr()

	h.setForwardingHeaders(outReq, r)

	resp, err := h.transport.RoundTrip(outReq)
	if err != nil {
		h.logger.Warn("backend request failed", "backend", backend.Addr(), "error", err)
		h.errorResponse(w, http.StatusBadGateway, "backend unavailable")
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (h *Handler) setForwardingHeaders(outReq, original *http.Request) {
	outReq.Header.Set("X-Forwarded-Proto", h.scheme)
	if original.Host != "" {
		outReq.Header.Set("X-Forwarded-Host", original.Host)
	}

	clientIP, _, err := net.SplitHostPort(original.RemoteAddr)
	if err != nil {
		clientIP = original.RemoteAddr
	}
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html><html><head><title>%d</title></head><body><h1>%d</h1><p>%s</p></body></html>`,
		status, status, message)
}

func extractHost(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return strings.ToLower(host)
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
