// ABOUTME: Coordinator-side discovery beacon: periodic UDP broadcast of the session address.
// ABOUTME: Send failures are logged and never stop the loop.

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/knyazev692/checkaso/internal/protocol"
)

// BeaconConfig says what to announce and where.
type BeaconConfig struct {
	Advertise protocol.CoordinatorAddress
	// Broadcast is the destination IP: an address, "" or BroadcastAuto.
	Broadcast string
	Port      int
	Interval  time.Duration
}

// Beacon periodically announces the coordinator.
type Beacon struct {
	cfg     BeaconConfig
	target  *net.UDPAddr
	payload []byte
	logger  *slog.Logger
}

// NewBeacon validates cfg and resolves the destination.
func NewBeacon(cfg BeaconConfig, logger *slog.Logger) (*Beacon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Advertise.IsZero() {
		return nil, errors.New("beacon needs an address to advertise")
	}
	if cfg.Port <= 0 {
		cfg.Port = protocol.DefaultDiscoveryPort
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}

	dest := ResolveBroadcast(cfg.Broadcast, cfg.Advertise.IP)
	target, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(dest, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast address %q: %w", dest, err)
	}

	return &Beacon{
		cfg:     cfg,
		target:  target,
		payload: protocol.EncodeBeacon(cfg.Advertise),
		logger:  logger.With("component", "beacon"),
	}, nil
}

// Target is where datagrams are sent.
func (b *Beacon) Target() string {
	return b.target.String()
}

// Run broadcasts immediately and then once per interval until ctx ends.
func (b *Beacon) Run(ctx context.Context) error {
	lc := net.ListenConfig{Control: controlBroadcast}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("opening beacon socket: %w", err)
	}
	defer pc.Close()

	b.logger.Info("discovery beacon started",
		"advertise", b.cfg.Advertise.String(),
		"target", b.target.String(),
		"interval", b.cfg.Interval.String())

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		b.send(pc)
		select {
		case <-ctx.Done():
			b.logger.Info("discovery beacon stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (b *Beacon) send(pc net.PacketConn) {
	_ = pc.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := pc.WriteTo(b.payload, b.target); err != nil {
		b.logger.Warn("beacon send failed", "target", b.target.String(), "error", err)
		return
	}
	b.logger.Debug("beacon sent", "target", b.target.String())
}
