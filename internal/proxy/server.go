package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rivetr/controlplane/internal/routetable"
)

// gracePeriod mirrors the teacher's main.go shutdown timeout (§5: 10s grace
// period for in-flight work to observe cancellation).
const gracePeriod = 10 * time.Second

// Server owns the HTTP and HTTPS listeners. Grounded on
// original_source/src/proxy/mod.rs's ProxyServer/HttpsProxyServer pair, but
// collapsed into one type since net/http.Server already gives per-connection
// goroutines and graceful shutdown without the original's hand-rolled
// accept loop.
type Server struct {
	httpAddr  string
	httpsAddr string
	certs     *CertStore
	logger    *slog.Logger

	httpServer  *http.Server
	httpsServer *http.Server
}

// NewServer wires both listeners against the same route table and ACME
// challenge store; the HTTP listener also serves ACME HTTP-01 challenges
// and, for any non-challenge request, forwards exactly like the HTTPS one
// (so an app with no certificate yet is still reachable over plain HTTP).
func NewServer(httpAddr, httpsAddr string, table *routetable.Table, challenges challengeStore, certs *CertStore, logger *slog.Logger) *Server {
	httpHandler := NewHandler(table, challenges, logger, "http")
	httpsHandler := NewHandler(table, challenges, logger, "https")

	return &Server{
		httpAddr:  httpAddr,
		httpsAddr: httpsAddr,
		certs:     certs,
		logger:    logger,
		httpServer: &http.Server{
			Addr:    httpAddr,
			Handler: httpHandler,
		},
		httpsServer: &http.Server{
			Addr:    httpsAddr,
			Handler: httpsHandler,
			TLSConfig: &tls.Config{
				GetCertificate: certs.GetCertificate,
			},
		},
	}
}

// Run starts both listeners and blocks until ctx is cancelled, then
// performs a graceful shutdown of each.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("proxy listening", "addr", s.httpAddr, "scheme", "http")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http listener: %w", err)
			return
		}
		errCh <- nil
	}()

	go func() {
		s.logger.Info("proxy listening", "addr", s.httpsAddr, "scheme", "https")
		if err := s.httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("https listener: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.shutdown()
			return err
		}
	}

	s.shutdown()
	<-errCh
	<-errCh
	return nil
}

func (s *Server) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()
	s.httpServer.Shutdown(shutdownCtx)
	s.httpsServer.Shutdown(shutdownCtx)
}
