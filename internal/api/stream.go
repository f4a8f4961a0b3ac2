// ABOUTME: WebSocket endpoint streaming live session events to the console.
// ABOUTME: One writer goroutine per client with pings; a reader detects disconnects.

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/knyazev692/checkaso/internal/auth"
)

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	hostname := r.URL.Query().Get("hostname")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, subID := s.stream.Subscribe(ctx, hostname)
	logger := s.logger.With("sub_id", subID, "subject", auth.Subject(r.Context()))
	logger.Info("event stream opened", "hostname", hostname, "remote", r.RemoteAddr)
	defer logger.Info("event stream closed")

	// Inbound frames are discarded; a read error means the client left.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				logger.Debug("event write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
