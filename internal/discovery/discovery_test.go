// ABOUTME: Tests for beacon broadcast, listener parsing and gating, and address helpers.
// ABOUTME: Uses loopback UDP sockets rather than real broadcast.

package discovery

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knyazev692/checkaso/internal/protocol"
)

var coordinator = protocol.CoordinatorAddress{IP: "192.168.1.20", Port: 12345}

func loopbackListener(t *testing.T) (*Listener, int) {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port

	l := NewListener(port, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.serve(ctx, pc) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return l, port
}

func TestBeaconReachesListener(t *testing.T) {
	l, port := loopbackListener(t)

	b, err := NewBeacon(BeaconConfig{
		Advertise: coordinator,
		Broadcast: "127.0.0.1",
		Port:      port,
		Interval:  20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(port), b.Target())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	select {
	case addr := <-l.Beacons():
		assert.Equal(t, coordinator, addr)
	case <-time.After(2 * time.Second):
		t.Fatal("no beacon received")
	}
}

func TestListener_IgnoresGarbage(t *testing.T) {
	l, port := loopbackListener(t)

	conn, err := net.Dial("udp4", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("HELLO WORLD"))
	require.NoError(t, err)
	_, err = conn.Write(protocol.EncodeBeacon(coordinator))
	require.NoError(t, err)

	select {
	case addr := <-l.Beacons():
		assert.Equal(t, coordinator, addr)
	case <-time.After(2 * time.Second):
		t.Fatal("valid beacon after garbage was not delivered")
	}
}

func TestListener_Gating(t *testing.T) {
	l := NewListener(0, nil)
	from := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 40000}

	var seen int
	l.OnBeacon = func(protocol.CoordinatorAddress, net.Addr) { seen++ }

	l.SetActive(false)
	assert.False(t, l.Active())
	l.handle(protocol.EncodeBeacon(coordinator), from)
	select {
	case <-l.Beacons():
		t.Fatal("gated listener delivered a beacon")
	default:
	}

	l.SetActive(true)
	l.handle(protocol.EncodeBeacon(coordinator), from)
	assert.Equal(t, coordinator, <-l.Beacons())
	assert.Equal(t, 2, seen)
}

func TestListener_KeepsNewestAddress(t *testing.T) {
	l := NewListener(0, nil)
	newer := protocol.CoordinatorAddress{IP: "192.168.1.21", Port: 12345}

	l.deliver(coordinator)
	l.deliver(newer)

	assert.Equal(t, newer, <-l.Beacons())
	select {
	case addr := <-l.Beacons():
		t.Fatalf("stale address %s still queued", addr)
	default:
	}
}

func TestNewBeacon_RequiresAddress(t *testing.T) {
	_, err := NewBeacon(BeaconConfig{}, nil)
	assert.Error(t, err)
}

func TestNewBeacon_Defaults(t *testing.T) {
	b, err := NewBeacon(BeaconConfig{Advertise: coordinator}, nil)
	require.NoError(t, err)
	assert.Equal(t, "255.255.255.255:12346", b.Target())
	assert.Equal(t, 5*time.Second, b.cfg.Interval)
	assert.Equal(t, "ADMIN_SERVER_DISCOVERY:192.168.1.20:12345", string(b.payload))
}

func TestBroadcastOf(t *testing.T) {
	_, n, err := net.ParseCIDR("192.168.1.20/24")
	require.NoError(t, err)
	n.IP = net.ParseIP("192.168.1.20")
	assert.Equal(t, "192.168.1.255", broadcastOf(n))

	_, n, err = net.ParseCIDR("10.1.2.3/16")
	require.NoError(t, err)
	assert.Equal(t, "10.1.255.255", broadcastOf(n))
}

func TestResolveBroadcast(t *testing.T) {
	assert.Equal(t, LimitedBroadcast, ResolveBroadcast("", "192.168.1.20"))
	assert.Equal(t, "192.168.1.255", ResolveBroadcast("192.168.1.255", "192.168.1.20"))
	assert.Equal(t, LimitedBroadcast, ResolveBroadcast(BroadcastAuto, "203.0.113.254"))
}

func TestDirectedBroadcast_RejectsNonIPv4(t *testing.T) {
	_, err := DirectedBroadcast("not-an-ip")
	assert.Error(t, err)
}

func TestOutboundIP(t *testing.T) {
	ip := net.ParseIP(OutboundIP())
	require.NotNil(t, ip)
	assert.NotNil(t, ip.To4())
}
