// ABOUTME: Registry of live agent sessions keyed by hostname, one session per host.
// ABOUTME: Admission evicts any previous session for the host; removal is idempotent.

package agent

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/knyazev692/checkaso/internal/events"
	"github.com/knyazev692/checkaso/internal/protocol"
)

// ErrSessionNotFound indicates no live session exists for the hostname.
var ErrSessionNotFound = errors.New("session not found")

// Registry maps hostnames to their live Session.
// Every mutation and its event are made under one lock, so subscribers see
// session_removed for an evicted session before session_established for
// its replacement.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	sink     events.Sink
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry. A nil sink discards events.
func NewRegistry(sink events.Sink, logger *slog.Logger) *Registry {
	if sink == nil {
		sink = events.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		sink:     sink,
		logger:   logger.With("component", "registry"),
	}
}

// Admit registers s as the session for its hostname. A previous session for
// the same hostname is closed and removed first, and returned.
func (r *Registry) Admit(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.sessions[s.Hostname]
	if exists && prev != s {
		prev.close()
		delete(r.sessions, prev.Hostname)
		r.sink.Publish(events.New(events.KindSessionRemoved, prev.Hostname, prev.IP, prev.ID))
		r.logger.Info("evicted previous session",
			"hostname", prev.Hostname,
			"old_session_id", prev.ID,
			"old_ip", prev.IP,
			"new_ip", s.IP)
	} else {
		prev = nil
	}

	r.sessions[s.Hostname] = s
	r.sink.Publish(events.New(events.KindSessionEstablished, s.Hostname, s.IP, s.ID))

	r.logger.Info("=== AGENT CONNECTED ===",
		"hostname", s.Hostname,
		"ip", s.IP,
		"session_id", s.ID,
		"total_agents", len(r.sessions))
	return prev
}

// Remove closes s and unregisters it if it is still the session for its
// hostname. It reports whether s was unregistered; calling it again, or
// after s was evicted, only ensures the socket is closed.
func (r *Registry) Remove(s *Session) bool {
	s.close()

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.sessions[s.Hostname]
	if !ok || cur != s {
		return false
	}
	delete(r.sessions, s.Hostname)
	r.sink.Publish(events.New(events.KindSessionRemoved, s.Hostname, s.IP, s.ID))

	r.logger.Info("=== AGENT DISCONNECTED ===",
		"hostname", s.Hostname,
		"session_id", s.ID,
		"total_agents", len(r.sessions))
	return true
}

// Get returns the live session for hostname.
func (r *Registry) Get(hostname string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[hostname]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Hostnames returns the hostnames of all live sessions, sorted.
func (r *Registry) Hostnames() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// List returns a snapshot of every live session, sorted by hostname.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Hostname < infos[j].Hostname })
	return infos
}

// Send delivers cmd to the session for hostname. A send that fails for any
// reason other than an unencodable command tears the session down.
func (r *Registry) Send(hostname string, cmd protocol.Command) error {
	s, ok := r.Get(hostname)
	if !ok {
		return ErrSessionNotFound
	}
	return r.sendTo(s, cmd)
}

// SendCommand is Send for callers that only need to know whether the
// command went out.
func (r *Registry) SendCommand(hostname, verb, payload string) bool {
	err := r.Send(hostname, protocol.New(verb, payload))
	if err != nil {
		r.logger.Warn("send failed",
			"hostname", hostname,
			"command", verb,
			"error", err)
		return false
	}
	return true
}

func (r *Registry) sendTo(s *Session, cmd protocol.Command) error {
	err := s.Send(cmd)
	if err == nil {
		return nil
	}
	if protocol.Classify(err) != protocol.ClassProtocol {
		r.logger.Warn("send failed, closing session",
			"hostname", s.Hostname,
			"session_id", s.ID,
			"command", cmd.Verb,
			"error", err)
		r.Remove(s)
	}
	return err
}

func (r *Registry) publish(e events.Event) {
	r.sink.Publish(e)
}

// CloseAll removes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		r.Remove(s)
	}
}
