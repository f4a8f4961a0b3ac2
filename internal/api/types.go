// ABOUTME: JSON request and response bodies of the control API
// ABOUTME: Shared by the HTTP handlers and the admin CLI client

package api

import (
	"github.com/knyazev692/checkaso/internal/agent"
	"github.com/knyazev692/checkaso/internal/events"
)

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AgentsResponse is the body of GET /api/agents.
type AgentsResponse struct {
	Agents []agent.SessionInfo `json:"agents"`
	Count  int                 `json:"count"`
}

// MessageRequest is the body of POST /api/agents/{hostname}/message.
type MessageRequest struct {
	Text string `json:"text"`
}

// CommandResponse reports a command that was written to a session.
type CommandResponse struct {
	Hostname string `json:"hostname"`
	Command  string `json:"command"`
	Status   string `json:"status"`
}

// BroadcastRequest is the body of POST /api/broadcast. An empty Hostnames
// list targets every connected agent.
type BroadcastRequest struct {
	Text      string   `json:"text"`
	Hostnames []string `json:"hostnames,omitempty"`
}

// BroadcastResult is the outcome for one target host.
type BroadcastResult struct {
	Hostname string `json:"hostname"`
	Sent     bool   `json:"sent"`
	Error    string `json:"error,omitempty"`
}

// BroadcastResponse is the body returned by POST /api/broadcast.
type BroadcastResponse struct {
	Results []BroadcastResult `json:"results"`
	Sent    int               `json:"sent"`
	Failed  int               `json:"failed"`
}

// HistoryResponse is the body of GET /api/history.
type HistoryResponse struct {
	Events []events.Event `json:"events"`
}
