// ABOUTME: Handlers for listing sessions, sending commands and reading the journal.
// ABOUTME: Maps registry and protocol errors onto HTTP status codes.

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/knyazev692/checkaso/internal/agent"
	"github.com/knyazev692/checkaso/internal/auth"
	"github.com/knyazev692/checkaso/internal/events"
	"github.com/knyazev692/checkaso/internal/protocol"
	"github.com/knyazev692/checkaso/internal/store"
)

const maxBodyBytes = 64 << 10

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.sessions.List()
	if agents == nil {
		agents = []agent.SessionInfo{}
	}
	s.writeJSON(w, http.StatusOK, AgentsResponse{Agents: agents, Count: len(agents)})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.sendJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	s.sendOne(w, r, r.PathValue("hostname"), protocol.DisplayMessage(req.Text))
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	s.sendOne(w, r, r.PathValue("hostname"), protocol.CheckDND())
}

func (s *Server) sendOne(w http.ResponseWriter, r *http.Request, hostname string, cmd protocol.Command) {
	err := s.sessions.Send(hostname, cmd)
	s.logger.Info("operator command",
		"subject", auth.Subject(r.Context()),
		"hostname", hostname,
		"command", cmd.Verb,
		"ok", err == nil)
	if err != nil {
		status, msg := sendErrorStatus(err)
		s.sendJSONError(w, status, msg)
		return
	}
	s.writeJSON(w, http.StatusOK, CommandResponse{Hostname: hostname, Command: cmd.Verb, Status: "sent"})
}

// sendErrorStatus maps a Registry.Send error to a status and message.
func sendErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrSessionNotFound):
		return http.StatusNotFound, "agent not connected"
	case protocol.Classify(err) == protocol.ClassProtocol:
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusBadGateway, "send failed, session closed"
	}
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.sendJSONError(w, http.StatusBadRequest, "text is required")
		return
	}
	cmd := protocol.DisplayMessage(req.Text)
	if _, err := cmd.Encode(); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	targets := req.Hostnames
	if len(targets) == 0 {
		for _, info := range s.sessions.List() {
			targets = append(targets, info.Hostname)
		}
	}

	resp := BroadcastResponse{Results: make([]BroadcastResult, 0, len(targets))}
	for _, hostname := range targets {
		res := BroadcastResult{Hostname: hostname, Sent: true}
		if err := s.sessions.Send(hostname, cmd); err != nil {
			_, msg := sendErrorStatus(err)
			res.Sent = false
			res.Error = msg
			resp.Failed++
		} else {
			resp.Sent++
		}
		resp.Results = append(resp.Results, res)
	}

	s.logger.Info("operator broadcast",
		"subject", auth.Subject(r.Context()),
		"targets", len(targets),
		"sent", resp.Sent,
		"failed", resp.Failed)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendJSONError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}

	filter, err := parseHistoryFilter(r)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := s.history.ListEvents(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing history", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Events: list})
}

func parseHistoryFilter(r *http.Request) (store.EventFilter, error) {
	q := r.URL.Query()
	f := store.EventFilter{Hostname: q.Get("hostname")}

	if k := q.Get("kind"); k != "" {
		f.Kind = events.Kind(k)
		if !f.Kind.Valid() {
			return f, errors.New("unknown kind")
		}
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since must be RFC3339")
		}
		f.Since = &t
	}
	return f, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}
