package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The progress feed carries no credentials and request IDs are
	// unguessable, so cross-origin subscriptions are allowed.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleProgressWS upgrades GET /v1/progress/ws?requestIds=a,b and
// streams progress events for the named requests as JSON text frames.
// The connection closes once every subscribed request reaches its
// terminal event.
func (s *Server) handleProgressWS(w http.ResponseWriter, r *http.Request) {
	ids := splitRequestIDs(r.URL.Query().Get("requestIds"))
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "requestIds query parameter is required")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake failure.
		return
	}
	defer conn.Close()

	events, cancel := s.bus.Subscribe(ids...)
	defer cancel()

	// Reader goroutine: surfaces client-side close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case ev := <-events:
			payload, err := ev.Encode()
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
			if ev.Terminal() {
				delete(pending, ev.RequestID)
				if len(pending) == 0 {
					s.closeGracefully(conn)
					return
				}
			}
		}
	}
}

func (s *Server) closeGracefully(conn *websocket.Conn) {
	deadline := time.Now().Add(wsWriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "all requests finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	if s.logger != nil {
		s.logger.Debug(context.Background(), "progress subscription closed", "reason", "complete")
	}
}

func splitRequestIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
