package proxy

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/rivetr/controlplane/internal/models"
	"github.com/rivetr/controlplane/internal/routetable"
)

type fakeChallengeStore struct {
	values map[string]string
}

func (f *fakeChallengeStore) Get(token string) (string, bool) {
	v, ok := f.values[token]
	return v, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func backendFor(t *testing.T, upstream *httptest.Server) *models.Backend {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(upstream.URL, "http://"))
	if err != nil {
		t.Fatalf("failed to split upstream address: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("failed to parse upstream port: %v", err)
	}
	return &models.Backend{Host: host, Port: port, Healthy: true}
}

func TestServeHTTPReturns404ForUnknownHost(t *testing.T) {
	handler := NewHandler(routetable.New(), &fakeChallengeStore{}, discardLogger(), "http")

	req := httptest.NewRequest(http.MethodGet, "http://unknown.example.com/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServeHTTPReturns503ForUnhealthyBackend(t *testing.T) {
	table := routetable.New()
	table.Put("app.example.com", &models.Backend{Host: "127.0.0.1", Port: 9999, Healthy: false})
	handler := NewHandler(table, &fakeChallengeStore{}, discardLogger(), "http")

	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestServeHTTPForwardsToHealthyBackend(t *testing.T) {
	var gotForwardedProto, gotForwardedHost, gotForwardedFor string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotForwardedProto = r.Header.Get("X-Forwarded-Proto")
		gotForwardedHost = r.Header.Get("X-Forwarded-Host")
		gotForwardedFor = r.Header.Get("X-Forwarded-For")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	table := routetable.New()
	table.Put("app.example.com", backendFor(t, upstream))
	handler := NewHandler(table, &fakeChallengeStore{}, discardLogger(), "https")

	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/", nil)
	req.Host = "app.example.com"
	req.RemoteAddr = "203.0.113.5:54321"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("got body %q, want %q", rec.Body.String(), "ok")
	}
	if gotForwardedProto != "https" {
		t.Fatalf("got X-Forwarded-Proto %q, want %q", gotForwardedProto, "https")
	}
	if gotForwardedHost != "app.example.com" {
		t.Fatalf("got X-Forwarded-Host %q, want %q", gotForwardedHost, "app.example.com")
	}
	if gotForwardedFor != "203.0.113.5" {
		t.Fatalf("got X-Forwarded-For %q, want %q", gotForwardedFor, "203.0.113.5")
	}
}

func TestServeHTTPInterceptsACMEChallenge(t *testing.T) {
	table := routetable.New()
	challenges := &fakeChallengeStore{values: map[string]string{"tok-1": "key-auth-1"}}
	handler := NewHandler(table, challenges, discardLogger(), "http")

	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/.well-known/acme-challenge/tok-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "key-auth-1" {
		t.Fatalf("got body %q, want %q", rec.Body.String(), "key-auth-1")
	}
}

func TestServeHTTPACMEChallengeUnknownTokenIs404(t *testing.T) {
	table := routetable.New()
	handler := NewHandler(table, &fakeChallengeStore{}, discardLogger(), "http")

	req := httptest.NewRequest(http.MethodGet, "http://app.example.com/.well-known/acme-challenge/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestExtractHostLowercasesAndFallsBackToURLHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://App.Example.com/", nil)
	req.Host = "App.Example.com"
	if got := extractHost(req); got != "app.example.com" {
		t.Fatalf("got %q, want %q", got, "app.example.com")
	}

	req.Host = ""
	if got := extractHost(req); got != "app.example.com" {
		t.Fatalf("fallback to URL host: got %q, want %q", got, "app.example.com")
	}
}
