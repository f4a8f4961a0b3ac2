// ABOUTME: HTTP control API for the console: session list, commands, history and live events.
// ABOUTME: /api routes are wrapped in JWT middleware when a verifier is configured.

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/knyazev692/checkaso/internal/agent"
	"github.com/knyazev692/checkaso/internal/auth"
	"github.com/knyazev692/checkaso/internal/events"
	"github.com/knyazev692/checkaso/internal/protocol"
	"github.com/knyazev692/checkaso/internal/store"
)

// Sessions is the part of the registry the API drives.
type Sessions interface {
	List() []agent.SessionInfo
	Send(hostname string, cmd protocol.Command) error
}

// History reads the session journal.
type History interface {
	ListEvents(ctx context.Context, f store.EventFilter) ([]events.Event, error)
}

// Stream hands out live event subscriptions.
type Stream interface {
	Subscribe(ctx context.Context, hostname string) (<-chan events.Event, string)
}

// Config holds the API's collaborators. History, Verifier and Replay may
// be nil; Replay enables Idempotency-Key on command routes.
type Config struct {
	Sessions Sessions
	Stream   Stream
	History  History
	Verifier auth.TokenVerifier
	Replay   Replay
	Logger   *slog.Logger
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsPongWait     = 2 * wsPingInterval
)

// Server implements the control API.
type Server struct {
	sessions Sessions
	stream   Stream
	history  History
	verifier auth.TokenVerifier
	replay   Replay
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates the API server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions: cfg.Sessions,
		stream:   cfg.Stream,
		history:  cfg.History,
		verifier: cfg.Verifier,
		replay:   cfg.Replay,
		logger:   logger.With("component", "control_api"),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/agents", s.handleListAgents)
	api.HandleFunc("POST /api/agents/{hostname}/message", s.idempotent(s.handleMessage))
	api.HandleFunc("POST /api/agents/{hostname}/check", s.handleCheck)
	api.HandleFunc("POST /api/broadcast", s.idempotent(s.handleBroadcast))
	api.HandleFunc("GET /api/history", s.handleHistory)
	api.HandleFunc("GET /api/events", s.handleEvents)

	if s.verifier != nil {
		mux.Handle("/api/", auth.HTTPAuthMiddleware(s.verifier)(api))
		s.logger.Info("control API auth enabled")
	} else {
		mux.Handle("/api/", api)
		s.logger.Warn("control API auth disabled - no jwt_secret configured")
	}
	return mux
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}

func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
