// ABOUTME: Agent-side discovery listener: parses beacons and forwards the newest address.
// ABOUTME: Delivery can be gated off while the agent is connected.

package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/knyazev692/checkaso/internal/protocol"
)

// Listener receives discovery beacons.
type Listener struct {
	port   int
	active atomic.Bool
	out    chan protocol.CoordinatorAddress
	logger *slog.Logger

	// OnBeacon, when set, sees every valid beacon regardless of gating.
	OnBeacon func(addr protocol.CoordinatorAddress, from net.Addr)
}

// NewListener creates an active Listener for the discovery port.
func NewListener(port int, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if port <= 0 {
		port = protocol.DefaultDiscoveryPort
	}
	l := &Listener{
		port:   port,
		out:    make(chan protocol.CoordinatorAddress, 1),
		logger: logger.With("component", "discovery"),
	}
	l.active.Store(true)
	return l
}

// Beacons delivers coordinator addresses. Only the newest undelivered
// address is kept.
func (l *Listener) Beacons() <-chan protocol.CoordinatorAddress {
	return l.out
}

// SetActive turns delivery on or off.
func (l *Listener) SetActive(active bool) {
	if l.active.Swap(active) != active {
		l.logger.Debug("discovery gate", "active", active)
	}
}

// Active reports whether beacons are being delivered.
func (l *Listener) Active() bool {
	return l.active.Load()
}

// Run reads datagrams until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: controlBroadcast}
	pc, err := lc.ListenPacket(ctx, "udp4", ":"+strconv.Itoa(l.port))
	if err != nil {
		return fmt.Errorf("listening for beacons on port %d: %w", l.port, err)
	}
	return l.serve(ctx, pc)
}

func (l *Listener) serve(ctx context.Context, pc net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { _ = pc.Close() })
	defer stop()
	defer pc.Close()

	l.logger.Info("listening for coordinator beacons", "addr", pc.LocalAddr().String())

	buf := make([]byte, 1024)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading beacon: %w", err)
		}
		l.handle(buf[:n], from)
	}
}

func (l *Listener) handle(data []byte, from net.Addr) {
	addr, err := protocol.ParseBeacon(data)
	if err != nil {
		l.logger.Debug("ignoring datagram", "from", from.String(), "error", err)
		return
	}
	if l.OnBeacon != nil {
		l.OnBeacon(addr, from)
	}
	if !l.active.Load() {
		return
	}
	l.deliver(addr)
}

func (l *Listener) deliver(addr protocol.CoordinatorAddress) {
	for {
		select {
		case l.out <- addr:
			return
		default:
		}
		// Drop the stale address to make room.
		select {
		case <-l.out:
		default:
		}
	}
}
