// ABOUTME: One connection epoch on the agent: handshake, heartbeat, reader, DND poll, watchdog.
// ABOUTME: The epoch's tasks share an errgroup so the first failure ends all of them.

package uplink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knyazev692/checkaso/internal/protocol"
)

// ErrLivenessTimeout reports that the coordinator went silent.
var ErrLivenessTimeout = errors.New("no traffic from coordinator")

const readBufferSize = 4096

// handshake introduces the agent and waits for the acknowledgement.
// Bytes received after the acknowledgement line are returned for the reader.
func handshake(conn net.Conn, hostname string, timeout, writeTimeout time.Duration) ([]byte, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write([]byte(hostname + "\n")); err != nil {
		return nil, fmt.Errorf("sending hostname: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	ack := []byte(protocol.HandshakeAck)
	var got []byte
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		got = append(got, buf[:n]...)

		if idx := bytes.IndexByte(got, '\n'); idx >= 0 {
			if !bytes.Equal(bytes.TrimSpace(got[:idx]), ack) {
				return nil, fmt.Errorf("%w: %q", protocol.ErrBadAcknowledgement, got[:idx])
			}
			return got[idx+1:], nil
		}
		// Older coordinators send the acknowledgement without a newline.
		trimmed := bytes.TrimSpace(got)
		if bytes.Equal(trimmed, ack) {
			return nil, nil
		}
		if !bytes.HasPrefix(ack, trimmed) {
			return nil, fmt.Errorf("%w: %q", protocol.ErrBadAcknowledgement, got)
		}

		if err != nil {
			return nil, fmt.Errorf("awaiting acknowledgement: %w", err)
		}
	}
}

// lineWriter serializes command writes from the epoch's tasks.
type lineWriter struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

func (w *lineWriter) send(cmd protocol.Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	if _, err := w.conn.Write(data); err != nil {
		return fmt.Errorf("sending %s: %w", cmd.Verb, err)
	}
	return nil
}

// runSession runs one connected epoch and returns why it ended.
func (m *Manager) runSession(ctx context.Context, conn net.Conn, leftover []byte) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()

	w := &lineWriter{conn: conn, timeout: m.cfg.WriteTimeout}
	var lastRecv atomic.Int64
	lastRecv.Store(time.Now().UnixNano())

	m.logger.Info("connected to coordinator", "coordinator", conn.RemoteAddr().String())

	dnd := m.deps.Probe.Read()
	if err := w.send(protocol.DNDStatus(dnd)); err != nil {
		return err
	}

	g.Go(func() error { return m.heartbeat(gctx, w) })
	g.Go(func() error { return m.reader(gctx, conn, w, leftover, &lastRecv) })
	g.Go(func() error { return m.pollDND(gctx, w, dnd) })
	g.Go(func() error { return m.watchdog(gctx, &lastRecv) })

	return g.Wait()
}

func (m *Manager) heartbeat(ctx context.Context, w *lineWriter) error {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.send(protocol.Ping()); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) pollDND(ctx context.Context, w *lineWriter, last string) error {
	ticker := time.NewTicker(m.cfg.DNDPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cur := m.deps.Probe.Read()
			if cur == last {
				continue
			}
			m.logger.Info("dnd status changed", "value", cur)
			if err := w.send(protocol.DNDStatus(cur)); err != nil {
				return err
			}
			last = cur
		}
	}
}

func (m *Manager) watchdog(ctx context.Context, lastRecv *atomic.Int64) error {
	interval := m.cfg.LivenessTimeout / 4
	if interval <= 0 {
		interval = m.cfg.LivenessTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			silent := time.Since(time.Unix(0, lastRecv.Load()))
			if silent > m.cfg.LivenessTimeout {
				return fmt.Errorf("%w for %s", ErrLivenessTimeout, silent.Round(time.Second))
			}
		}
	}
}

func (m *Manager) reader(ctx context.Context, conn net.Conn, w *lineWriter, leftover []byte, lastRecv *atomic.Int64) error {
	framer := protocol.NewFramer()
	lines, err := framer.Feed(leftover)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if err := m.dispatch(w, line); err != nil {
			return err
		}
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			lastRecv.Store(time.Now().UnixNano())
			lines, ferr := framer.Feed(buf[:n])
			for _, line := range lines {
				if derr := m.dispatch(w, line); derr != nil {
					return derr
				}
			}
			if ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading from coordinator: %w", err)
		}
	}
}

func (m *Manager) dispatch(w *lineWriter, line string) error {
	cmd := protocol.Parse(line)
	if cmd.IsZero() {
		return nil
	}

	switch cmd.Kind {
	case protocol.KindCheckDND:
		return w.send(protocol.DNDStatus(m.deps.Probe.Read()))

	case protocol.KindDisplayMessage:
		m.logger.Info("displaying message", "length", len(cmd.Payload))
		if !m.deps.Notifier.Show(m.cfg.MessageTitle, cmd.Payload) {
			m.logger.Warn("message not shown, withholding acknowledgement")
			return nil
		}
		return w.send(protocol.MessageDisplayed())

	case protocol.KindPing:
		return nil

	default:
		m.logger.Warn("unrecognized command", "command", strings.TrimSpace(cmd.String()))
		return nil
	}
}
