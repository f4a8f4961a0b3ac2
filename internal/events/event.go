// ABOUTME: Session lifecycle event type and the non-blocking Sink interface.
// ABOUTME: Events are published by the registry and consumed by the console and journal.

package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind names what happened to a session.
type Kind string

const (
	KindSessionEstablished Kind = "session_established"
	KindSessionRemoved     Kind = "session_removed"
	KindDNDStatusChanged   Kind = "dnd_status_changed"
	KindMessageDisplayed   Kind = "message_displayed"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSessionEstablished, KindSessionRemoved, KindDNDStatusChanged, KindMessageDisplayed:
		return true
	}
	return false
}

// Event is a single notification about a session.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Hostname  string    `json:"hostname"`
	IP        string    `json:"ip,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Value     string    `json:"value,omitempty"`
	Time      time.Time `json:"time"`
}

// New stamps a fresh event with an ID and the current time.
func New(kind Kind, hostname, ip, sessionID string) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Hostname:  hostname,
		IP:        ip,
		SessionID: sessionID,
		Time:      time.Now().UTC(),
	}
}

// WithValue returns a copy of e carrying value.
func (e Event) WithValue(value string) Event {
	e.Value = value
	return e
}

// Sink receives events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }
