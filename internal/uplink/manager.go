// ABOUTME: Agent connection manager: drives the Machine against real sockets and timers.
// ABOUTME: Owns discovery gating, dialing, the handshake, and the reconnect loop.

package uplink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/knyazev692/checkaso/internal/protocol"
)

// Dialer opens connections to the coordinator. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Probe reports the local DND flag, "0" or "1".
type Probe interface {
	Read() string
}

// Notifier shows a message to the user. Show must not block for long and
// reports whether the message was accepted.
type Notifier interface {
	Show(title, body string) bool
}

// Gate switches beacon delivery on and off.
type Gate interface {
	SetActive(active bool)
}

// Config holds the agent's identity and timings.
type Config struct {
	Hostname string
	// Coordinator, when set, is used as if a beacon had announced it.
	Coordinator string

	ConnectTimeout    time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration
	ReconnectDelay    time.Duration
	DNDPollInterval   time.Duration
	MaxFailures       int

	// MessageTitle is the notification title for display_message.
	MessageTitle string
}

// DefaultConfig returns the protocol's standard agent timings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		LivenessTimeout:   60 * time.Second,
		ReconnectDelay:    5 * time.Second,
		DNDPollInterval:   2 * time.Second,
		MaxFailures:       DefaultMaxFailures,
		MessageTitle:      "Message from server",
	}
}

// Deps are the Manager's collaborators. Beacons delivers addresses learned
// from discovery; Gate, when set, is switched off while connected.
type Deps struct {
	Dialer   Dialer
	Probe    Probe
	Notifier Notifier
	Beacons  <-chan protocol.CoordinatorAddress
	Gate     Gate

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to Machine)
}

// Manager keeps the agent connected to a coordinator.
type Manager struct {
	cfg    Config
	deps   Deps
	static protocol.CoordinatorAddress
	logger *slog.Logger

	mu      sync.RWMutex
	machine Machine
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg Config, deps Deps, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := protocol.ValidateHostname(cfg.Hostname); err != nil {
		return nil, fmt.Errorf("agent hostname: %w", err)
	}
	if deps.Dialer == nil {
		deps.Dialer = &net.Dialer{}
	}
	if deps.Probe == nil {
		return nil, errors.New("dnd probe is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("notifier is required")
	}

	def := DefaultConfig()
	durations := []struct {
		v *time.Duration
		d time.Duration
	}{
		{&cfg.ConnectTimeout, def.ConnectTimeout},
		{&cfg.HandshakeTimeout, def.HandshakeTimeout},
		{&cfg.WriteTimeout, def.WriteTimeout},
		{&cfg.HeartbeatInterval, def.HeartbeatInterval},
		{&cfg.LivenessTimeout, def.LivenessTimeout},
		{&cfg.ReconnectDelay, def.ReconnectDelay},
		{&cfg.DNDPollInterval, def.DNDPollInterval},
	}
	for _, d := range durations {
		if *d.v <= 0 {
			*d.v = d.d
		}
	}
	if cfg.MessageTitle == "" {
		cfg.MessageTitle = def.MessageTitle
	}

	m := &Manager{
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With("component", "uplink", "hostname", cfg.Hostname),
		machine: NewMachine(cfg.MaxFailures),
	}

	if cfg.Coordinator != "" {
		addr, err := protocol.ParseAddress(cfg.Coordinator)
		if err != nil {
			return nil, err
		}
		m.static = addr
	}
	return m, nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.machine.State
}

// Machine returns a copy of the current machine.
func (m *Manager) Machine() Machine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.machine
}

func (m *Manager) apply(in Input) Machine {
	m.mu.Lock()
	from := m.machine
	to := from.Apply(in)
	m.machine = to
	m.mu.Unlock()

	if from.State != to.State || from.Addr != to.Addr {
		m.logger.Info("state transition",
			"input", in.Kind.String(),
			"from", from.State.String(),
			"to", to.State.String(),
			"coordinator", to.Addr.String(),
			"failures", to.Failures)
		if m.deps.OnTransition != nil {
			m.deps.OnTransition(from, to)
		}
	}
	return to
}

func (m *Manager) setGate(active bool) {
	if m.deps.Gate != nil {
		m.deps.Gate.SetActive(active)
	}
}

// Run drives the connection until ctx is cancelled. It always returns nil
// after cancellation; no connection failure ends it.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("agent connection manager starting")
	defer m.logger.Info("agent connection manager stopped")

	m.setGate(true)
	if !m.static.IsZero() {
		m.apply(Beacon(m.static))
	}

	var (
		conn     net.Conn
		leftover []byte
	)
	defer func() {
		if conn != nil {
			_ = conn.Close()
		}
	}()

	for ctx.Err() == nil {
		cur := m.Machine()
		switch cur.State {
		case Searching:
			m.setGate(true)
			select {
			case <-ctx.Done():
			case addr := <-m.deps.Beacons:
				m.apply(Beacon(addr))
			}

		case Connecting:
			c, err := m.dial(ctx, cur.Addr)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				m.logger.Warn("connect failed", "coordinator", cur.Addr.String(), "error", err)
				m.apply(Input{Kind: InputDialFailed})
				break
			}
			conn = c
			m.apply(Input{Kind: InputDialed})

		case Handshaking:
			rest, err := handshake(conn, m.cfg.Hostname, m.cfg.HandshakeTimeout, m.cfg.WriteTimeout)
			if err != nil {
				_ = conn.Close()
				conn = nil
				if ctx.Err() != nil {
					break
				}
				m.logger.Warn("handshake failed", "coordinator", cur.Addr.String(), "error", err)
				m.apply(Input{Kind: InputHandshakeFailed})
				break
			}
			leftover = rest
			m.apply(Input{Kind: InputHandshakeOK})

		case Connected:
			m.setGate(false)
			err := m.runSession(ctx, conn, leftover)
			_ = conn.Close()
			conn, leftover = nil, nil
			m.setGate(true)
			if ctx.Err() != nil {
				break
			}
			m.logger.Warn("connection lost", "coordinator", cur.Addr.String(), "error", err)
			m.apply(Input{Kind: InputConnectionLost})

		case Reconnecting:
			m.waitRetry(ctx, cur)

		case GiveUp:
			m.logger.Warn("giving up on coordinator, searching again",
				"coordinator", cur.Addr.String(),
				"failures", cur.Failures)
			m.apply(Input{Kind: InputReset})
			if !m.static.IsZero() {
				m.apply(Beacon(m.static))
			}
		}
	}
	return nil
}

func (m *Manager) dial(ctx context.Context, addr protocol.CoordinatorAddress) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.deps.Dialer.DialContext(dialCtx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
	}
	return conn, nil
}

// waitRetry sleeps out the reconnect delay. A beacon announcing a different
// coordinator cuts the wait short.
func (m *Manager) waitRetry(ctx context.Context, cur Machine) {
	m.logger.Info("reconnecting",
		"coordinator", cur.Addr.String(),
		"delay", m.cfg.ReconnectDelay.String(),
		"failures", cur.Failures)

	timer := time.NewTimer(m.cfg.ReconnectDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.apply(Input{Kind: InputRetryElapsed})
			return
		case addr := <-m.deps.Beacons:
			if next := m.apply(Beacon(addr)); next.State != Reconnecting {
				return
			}
		}
	}
}
