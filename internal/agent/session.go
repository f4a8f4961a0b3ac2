// ABOUTME: One admitted agent connection: identity, last known state, and serialized sends.
// ABOUTME: Sends retry transient write failures and resume from the last written byte.

package agent

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/knyazev692/checkaso/internal/protocol"
)

// DNDUnknown is the DND value of a session that has not reported yet.
const DNDUnknown = ""

// SendPolicy bounds a single outbound send.
type SendPolicy struct {
	WriteTimeout time.Duration
	Attempts     int
	Backoff      time.Duration
}

// DefaultSendPolicy is a 5s write deadline, three attempts, one second apart.
var DefaultSendPolicy = SendPolicy{
	WriteTimeout: 5 * time.Second,
	Attempts:     3,
	Backoff:      time.Second,
}

// Session is an agent that completed the handshake.
// It is created only by the Server and destroyed through Registry.Remove.
type Session struct {
	ID          string
	Hostname    string
	IP          string
	ConnectedAt time.Time

	conn   net.Conn
	policy SendPolicy
	logger *slog.Logger

	sendMu sync.Mutex

	mu           sync.RWMutex
	lastActivity time.Time
	lastSend     time.Time
	dnd          string

	closeOnce sync.Once
	done      chan struct{}
}

// SessionInfo is a point-in-time copy of a Session's observable state.
type SessionInfo struct {
	ID           string    `json:"session_id"`
	Hostname     string    `json:"hostname"`
	IP           string    `json:"ip"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	DND          string    `json:"dnd"`
}

// NewSession wraps an already-handshaken connection.
func NewSession(hostname string, conn net.Conn, policy SendPolicy, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultSendPolicy.Attempts
	}
	if policy.WriteTimeout <= 0 {
		policy.WriteTimeout = DefaultSendPolicy.WriteTimeout
	}

	now := time.Now()
	id := uuid.New().String()
	return &Session{
		ID:           id,
		Hostname:     hostname,
		IP:           remoteIP(conn),
		ConnectedAt:  now,
		conn:         conn,
		policy:       policy,
		logger:       logger.With("hostname", hostname, "session_id", id),
		lastActivity: now,
		lastSend:     now,
		done:         make(chan struct{}),
	}
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Send writes cmd to the agent. Sends on one session never interleave.
// Transient failures are retried per the session's SendPolicy, continuing
// from the first unwritten byte so the line is never duplicated or torn.
func (s *Session) Send(cmd protocol.Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	select {
	case <-s.done:
		return protocol.ErrConnectionClosed
	default:
	}

	written := 0
	attempt := 0
	op := func() error {
		attempt++
		for written < len(data) {
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.policy.WriteTimeout)); err != nil {
				return backoff.Permanent(err)
			}
			n, err := s.conn.Write(data[written:])
			written += n
			if err != nil {
				if protocol.Classify(err) == protocol.ClassTransient {
					s.logger.Debug("transient send failure, will retry",
						"command", cmd.Verb,
						"attempt", attempt,
						"written", written,
						"error", err)
					return err
				}
				return backoff.Permanent(err)
			}
			if n == 0 {
				return backoff.Permanent(protocol.ErrConnectionClosed)
			}
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.policy.Backoff), uint64(s.policy.Attempts-1))
	if err := backoff.Retry(op, policy); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastSend = time.Now()
	s.mu.Unlock()

	s.logger.Debug("command sent", "command", cmd.Verb)
	return nil
}

// Done is closed once the session's socket has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// close shuts the socket down. It reports whether this call did the work.
func (s *Session) close() bool {
	closed := false
	s.closeOnce.Do(func() {
		closed = true
		close(s.done)
		if tcp, ok := s.conn.(*net.TCPConn); ok {
			_ = tcp.CloseRead()
			_ = tcp.CloseWrite()
		}
		_ = s.conn.Close()
	})
	return closed
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) setDND(value string) {
	s.mu.Lock()
	s.dnd = value
	s.mu.Unlock()
}

// DND returns the last value the agent reported, or DNDUnknown.
func (s *Session) DND() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dnd
}

// LastActivity is when bytes last arrived from the agent.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// LastSend is when a command was last written to the agent in full.
func (s *Session) LastSend() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSend
}

// Info snapshots the session.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:           s.ID,
		Hostname:     s.Hostname,
		IP:           s.IP,
		ConnectedAt:  s.ConnectedAt,
		LastActivity: s.lastActivity,
		DND:          s.dnd,
	}
}
