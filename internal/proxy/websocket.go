package proxy

// websocket.go implements the WebSocket tunnel path using gorilla/websocket
// on both legs: the Upgrader completes the client handshake, a Dialer opens
// the upstream connection replaying the client's headers, and two pump
// goroutines forward frames message-by-message in each direction. This
// generalizes original_source/src/proxy/service.rs's forward_websocket
// (forward the upgrade request, then tunnel) onto a frame-aware library
// rather than a raw byte splice, since gorilla/websocket is already the
// WebSocket dependency pulled into this module.

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rivetr/controlplane/internal/models"
)

var upstreamDialer = websocket.Dialer{
	HandshakeTimeout: 10 * time.Second,
}

var clientUpgrader = websocket.Upgrader{
	// Origin checking is the backend application's concern, not the
	// proxy's; the proxy forwards whatever Origin the client sent.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func (h *Handler) proxyWebSocket(w http.ResponseWriter, r *http.Request, backend *models.Backend) {
	upstreamURL := "ws://" + backend.Addr() + r.URL.RequestURI()

	upstreamHeader := make(http.Header)
	for key, values := range r.Header {
		if isHopByHopWebSocketHeader(key) {
			continue
		}
		upstreamHeader[key] = values
	}
	upstreamHeader.Set("X-Forwarded-Proto", h.scheme)
	if r.Host != "" {
		upstreamHeader.Set("X-Forwarded-Host", r.Host)
	}

	upstreamConn, upstreamResp, err := upstreamDialer.Dial(upstreamURL, upstreamHeader)
	if err != nil {
		h.logger.Warn("websocket upstream dial failed", "backend", backend.Addr(), "error", err)
		status := http.StatusBadGateway
		if upstreamResp != nil {
			status = upstreamResp.StatusCode
		}
		h.errorResponse(w, status, "websocket backend unavailable")
		return
	}
	defer upstreamConn.Close()

	clientConn, err := clientUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket client upgrade failed", "error", err)
		return
	}
	defer clientConn.Close()

	done := make(chan struct{}, 2)
	go pumpWebSocket(clientConn, upstreamConn, done, h.logger)
	go pumpWebSocket(upstreamConn, clientConn, done, h.logger)
	<-done

	h.logger.Debug("websocket tunnel closed", "backend", backend.Addr())
}

// pumpWebSocket forwards frames read from src to dst until src closes or a
// write to dst fails. Both directions run concurrently; only the first to
// finish is awaited by the caller, the other is left to unwind on its own
// once the peer connection closes underneath it.
func pumpWebSocket(src, dst *websocket.Conn, done chan<- struct{}, logger *slog.Logger) {
	defer func() { done <- struct{}{} }()
	for {
		messageType, message, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(messageType, message); err != nil {
			return
		}
	}
}

func isHopByHopWebSocketHeader(key string) bool {
	switch strings.ToLower(key) {
	case "connection", "upgrade", "sec-websocket-key", "sec-websocket-version",
		"sec-websocket-extensions", "sec-websocket-protocol":
		return true
	default:
		return false
	}
}
