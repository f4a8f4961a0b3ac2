// ABOUTME: TCP session server: accept loop, hostname handshake, per-session read loop.
// ABOUTME: Every goroutine it starts is tracked and joined by Shutdown.

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/knyazev692/checkaso/internal/events"
	"github.com/knyazev692/checkaso/internal/protocol"
)

// ServerConfig holds the session server's listen address and timeouts.
type ServerConfig struct {
	Addr              string
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration
	InitialProbeDelay time.Duration
	KeepAlive         time.Duration
	Send              SendPolicy
}

// DefaultServerConfig returns the protocol's standard timings on port 12345.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:              fmt.Sprintf(":%d", protocol.DefaultSessionPort),
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       30 * time.Second,
		InitialProbeDelay: time.Second,
		KeepAlive:         15 * time.Second,
		Send:              DefaultSendPolicy,
	}
}

const readBufferSize = 4096

// Server accepts agent connections and turns them into registered sessions.
type Server struct {
	cfg      ServerConfig
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates a Server that admits sessions into registry.
func NewServer(cfg ServerConfig, registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultServerConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.InitialProbeDelay < 0 {
		cfg.InitialProbeDelay = 0
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With("component", "session_server"),
	}
}

// Listen binds the session port. Serve calls it if it has not been called.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}
	lc := net.ListenConfig{KeepAlive: s.cfg.KeepAlive}
	ln, err := lc.Listen(context.Background(), "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled or Shutdown is called.
// It returns nil on a clean stop.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	ln := s.listener
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	defer cancel()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("session server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Shutdown stops accepting, closes every session, and waits for all
// session goroutines to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	s.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("session server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions to finish: %w", ctx.Err())
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	hostname, framer, pending, err := s.handshake(conn)
	stopped := stop()
	if err != nil || !stopped {
		s.logger.Debug("handshake failed, dropping connection",
			"remote", conn.RemoteAddr().String(),
			"error", err)
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	sess := NewSession(hostname, conn, s.cfg.Send, s.logger)
	// No command may reach the wire before the ack.
	if err := sess.Send(protocol.New(protocol.HandshakeAck, "")); err != nil {
		s.logger.Debug("acknowledgement failed, dropping connection",
			"hostname", hostname,
			"error", err)
		sess.close()
		return
	}
	s.registry.Admit(sess)
	// Teardown on shutdown unblocks the reader.
	stopTeardown := context.AfterFunc(ctx, func() { s.registry.Remove(sess) })
	defer stopTeardown()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.initialProbe(ctx, sess)
	}()

	s.readLoop(sess, framer, pending)
}

// handshake reads the first line as the agent's hostname. Lines that
// arrived in the same reads are returned for dispatch once admitted.
func (s *Server) handshake(conn net.Conn) (string, *protocol.Framer, []string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return "", nil, nil, err
	}

	framer := protocol.NewFramer()
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			lines, ferr := framer.Feed(buf[:n])
			if len(lines) > 0 {
				hostname := strings.TrimSpace(lines[0])
				if verr := protocol.ValidateHostname(hostname); verr != nil {
					return "", nil, nil, verr
				}
				if ferr != nil {
					return "", nil, nil, ferr
				}
				return hostname, framer, lines[1:], nil
			}
			if ferr != nil {
				return "", nil, nil, ferr
			}
			if len(framer.Pending()) > protocol.MaxHostnameLength*4 {
				return "", nil, nil, protocol.ErrHostnameTooLong
			}
		}
		if err != nil {
			return "", nil, nil, err
		}
	}
}

func (s *Server) initialProbe(ctx context.Context, sess *Session) {
	timer := time.NewTimer(s.cfg.InitialProbeDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-sess.Done():
		return
	case <-timer.C:
	}
	_ = s.registry.sendTo(sess, protocol.CheckDND())
}

func (s *Server) readLoop(sess *Session, framer *protocol.Framer, pending []string) {
	defer s.registry.Remove(sess)

	for _, line := range pending {
		s.dispatch(sess, line)
	}

	buf := make([]byte, readBufferSize)
	for {
		// Wake when the agent has been silent, or nothing has been sent to
		// it, for ReadTimeout.
		deadline := time.Now().Add(s.cfg.ReadTimeout)
		if quiet := sess.LastSend().Add(s.cfg.ReadTimeout); quiet.Before(deadline) {
			deadline = quiet
		}
		if err := sess.conn.SetReadDeadline(deadline); err != nil {
			return
		}
		n, err := sess.conn.Read(buf)
		if n > 0 {
			sess.touch()
			lines, ferr := framer.Feed(buf[:n])
			for _, line := range lines {
				s.dispatch(sess, line)
			}
			if ferr != nil {
				sess.logger.Warn("protocol violation, closing session", "error", ferr)
				return
			}
		}
		if err == nil {
			continue
		}

		if protocol.IsTimeout(err) {
			sess.logger.Debug("session quiet, requesting dnd status")
			if sendErr := s.registry.sendTo(sess, protocol.CheckDND()); sendErr != nil {
				return
			}
			continue
		}

		select {
		case <-sess.Done():
			sess.logger.Debug("session closed locally")
		default:
			if errors.Is(err, io.EOF) {
				sess.logger.Info("agent closed connection")
			} else {
				sess.logger.Warn("session read failed",
					"class", protocol.Classify(err).String(),
					"error", err)
			}
		}
		return
	}
}

func (s *Server) dispatch(sess *Session, line string) {
	cmd := protocol.Parse(line)
	if cmd.IsZero() {
		return
	}

	switch cmd.Kind {
	case protocol.KindPing:
		sess.logger.Debug("ping")

	case protocol.KindDNDStatus:
		value := strings.TrimSpace(cmd.Payload)
		if value != "0" && value != "1" {
			sess.logger.Warn("invalid dnd status, ignoring", "value", cmd.Payload)
			return
		}
		sess.setDND(value)
		s.registry.publish(events.New(events.KindDNDStatusChanged, sess.Hostname, sess.IP, sess.ID).WithValue(value))
		sess.logger.Info("dnd status", "value", value)

	case protocol.KindMessageDisplayed:
		s.registry.publish(events.New(events.KindMessageDisplayed, sess.Hostname, sess.IP, sess.ID))
		sess.logger.Info("message displayed")

	default:
		sess.logger.Warn("unrecognized command", "command", cmd.String())
	}
}
