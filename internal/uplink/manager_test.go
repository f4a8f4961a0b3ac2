// ABOUTME: Tests for the agent Manager against a fake coordinator over net.Pipe.
// ABOUTME: Covers discovery, handshake, message display, reconnection and give-up.

package uplink

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knyazev692/checkaso/internal/protocol"
)

// pipeDialer hands the agent one end of a net.Pipe and the test the other.
type pipeDialer struct {
	peers chan net.Conn
	fail  atomic.Bool
	dials atomic.Int32
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{peers: make(chan net.Conn, 4)}
}

func (d *pipeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials.Add(1)
	if d.fail.Load() {
		return nil, errors.New("connection refused")
	}
	agentEnd, coordEnd := net.Pipe()
	d.peers <- coordEnd
	return agentEnd, nil
}

func (d *pipeDialer) accept(t *testing.T) *fakeCoordinator {
	t.Helper()
	select {
	case conn := <-d.peers:
		t.Cleanup(func() { _ = conn.Close() })
		return &fakeCoordinator{conn: conn, r: bufio.NewReader(conn)}
	case <-time.After(2 * time.Second):
		t.Fatal("agent never dialed")
	}
	return nil
}

type fakeCoordinator struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *fakeCoordinator) readLine(t *testing.T) string {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.r.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func (c *fakeCoordinator) write(t *testing.T, s string) {
	t.Helper()
	require.NoError(t, c.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := c.conn.Write([]byte(s))
	require.NoError(t, err)
}

type fixedProbe struct {
	mu    sync.Mutex
	value string
}

func (p *fixedProbe) Read() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *fixedProbe) set(v string) {
	p.mu.Lock()
	p.value = v
	p.mu.Unlock()
}

type recordingNotifier struct {
	shown  chan string
	refuse atomic.Bool
}

func (n *recordingNotifier) Show(title, body string) bool {
	n.shown <- body
	return !n.refuse.Load()
}

type recordingGate struct {
	active atomic.Bool
}

func (g *recordingGate) SetActive(active bool) { g.active.Store(active) }

type transitions struct {
	mu     sync.Mutex
	states []State
}

func (tr *transitions) record(from, to Machine) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if from.State != to.State {
		tr.states = append(tr.states, to.State)
	}
}

func (tr *transitions) snapshot() []State {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]State(nil), tr.states...)
}

type harness struct {
	mgr      *Manager
	dialer   *pipeDialer
	probe    *fixedProbe
	notifier *recordingNotifier
	gate     *recordingGate
	beacons  chan protocol.CoordinatorAddress
	trans    *transitions
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Hostname = "alice"
	cfg.ConnectTimeout = time.Second
	cfg.HandshakeTimeout = 500 * time.Millisecond
	cfg.WriteTimeout = time.Second
	cfg.HeartbeatInterval = time.Hour
	cfg.LivenessTimeout = time.Hour
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.DNDPollInterval = time.Hour
	return cfg
}

func startHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		dialer:   newPipeDialer(),
		probe:    &fixedProbe{value: "1"},
		notifier: &recordingNotifier{shown: make(chan string, 4)},
		gate:     &recordingGate{},
		beacons:  make(chan protocol.CoordinatorAddress, 1),
		trans:    &transitions{},
	}
	mgr, err := NewManager(cfg, Deps{
		Dialer:       h.dialer,
		Probe:        h.probe,
		Notifier:     h.notifier,
		Beacons:      h.beacons,
		Gate:         h.gate,
		OnTransition: h.trans.record,
	}, nil)
	require.NoError(t, err)
	h.mgr = mgr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		assert.NoError(t, mgr.Run(ctx))
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("manager did not stop")
		}
	})
	return h
}

func (h *harness) connect(t *testing.T) *fakeCoordinator {
	t.Helper()
	c := h.dialer.accept(t)
	assert.Equal(t, "alice", c.readLine(t))
	c.write(t, "CONNECTION_ACCEPTED\n")
	assert.Equal(t, "dnd_status:1", c.readLine(t))
	return c
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.mgr.State() == want },
		2*time.Second, 5*time.Millisecond, "state never became %s (now %s)", want, h.mgr.State())
}

func TestManager_BeaconLeadsToConnected(t *testing.T) {
	h := startHarness(t, nil)
	assert.Equal(t, Searching, h.mgr.State())

	h.beacons <- addrA
	h.connect(t)
	h.waitState(t, Connected)
	assert.False(t, h.gate.active.Load(), "discovery should be gated off while connected")
	assert.Equal(t, addrA, h.mgr.Machine().Addr)
}

func TestManager_DisplayMessageIsShownAndAcknowledged(t *testing.T) {
	h := startHarness(t, nil)
	h.beacons <- addrA
	c := h.connect(t)

	c.write(t, "display_message:Hello\n")
	select {
	case body := <-h.notifier.shown:
		assert.Equal(t, "Hello", body)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not shown")
	}
	assert.Equal(t, "message_displayed", c.readLine(t))
}

func TestManager_DroppedMessageIsNotAcknowledged(t *testing.T) {
	h := startHarness(t, nil)
	h.beacons <- addrA
	c := h.connect(t)

	h.notifier.refuse.Store(true)
	c.write(t, "display_message:Hello\n")
	<-h.notifier.shown

	h.notifier.refuse.Store(false)
	c.write(t, "check_dnd_status\n")
	assert.Equal(t, "dnd_status:1", c.readLine(t), "no message_displayed may precede the reply")
}

func TestManager_AnswersDNDCheck(t *testing.T) {
	h := startHarness(t, nil)
	h.beacons <- addrA
	c := h.connect(t)

	h.probe.set("0")
	c.write(t, "check_dnd_status\n")
	assert.Equal(t, "dnd_status:0", c.readLine(t))

	c.write(t, "bogus_command:1\nping\n")
	c.write(t, "check_dnd_status\r\n")
	assert.Equal(t, "dnd_status:0", c.readLine(t))
}

func TestManager_PushesDNDChanges(t *testing.T) {
	h := startHarness(t, func(cfg *Config) {
		cfg.DNDPollInterval = 10 * time.Millisecond
	})
	h.beacons <- addrA
	c := h.connect(t)

	h.probe.set("0")
	assert.Equal(t, "dnd_status:0", c.readLine(t))
}

func TestManager_SendsHeartbeats(t *testing.T) {
	h := startHarness(t, func(cfg *Config) {
		cfg.HeartbeatInterval = 20 * time.Millisecond
	})
	h.beacons <- addrA
	c := h.connect(t)

	assert.Equal(t, "ping", c.readLine(t))
	assert.Equal(t, "ping", c.readLine(t))
}

func TestManager_BareAcknowledgement(t *testing.T) {
	h := startHarness(t, nil)
	h.beacons <- addrA

	c := h.dialer.accept(t)
	assert.Equal(t, "alice", c.readLine(t))
	c.write(t, "CONNECTION_ACCEPTED")
	assert.Equal(t, "dnd_status:1", c.readLine(t))
	h.waitState(t, Connected)
}

func TestManager_BadAcknowledgementRetries(t *testing.T) {
	h := startHarness(t, nil)
	h.beacons <- addrA

	c := h.dialer.accept(t)
	assert.Equal(t, "alice", c.readLine(t))
	c.write(t, "GO_AWAY\n")

	// The agent retries the same coordinator after the reconnect delay.
	h.connect(t)
	h.waitState(t, Connected)
	assert.Contains(t, h.trans.snapshot(), Reconnecting)
}

func TestManager_ReconnectsAfterConnectionLoss(t *testing.T) {
	h := startHarness(t, nil)
	h.beacons <- addrA
	c := h.connect(t)
	h.waitState(t, Connected)

	require.NoError(t, c.conn.Close())

	h.connect(t)
	h.waitState(t, Connected)
	assert.Equal(t, int32(2), h.dialer.dials.Load())
}

func TestManager_LivenessTimeout(t *testing.T) {
	h := startHarness(t, func(cfg *Config) {
		cfg.LivenessTimeout = 80 * time.Millisecond
	})
	h.beacons <- addrA
	h.connect(t)

	// Silence from the coordinator ends the epoch and the agent dials again.
	h.connect(t)
}

func TestManager_GiveUpForgetsAddress(t *testing.T) {
	h := startHarness(t, nil)
	h.dialer.fail.Store(true)
	h.beacons <- addrA

	require.Eventually(t, func() bool {
		states := h.trans.snapshot()
		return len(states) > 0 && states[len(states)-1] == Searching && h.dialer.dials.Load() == 3
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{
		Connecting, Reconnecting,
		Connecting, Reconnecting,
		Connecting, GiveUp,
		Searching,
	}, h.trans.snapshot())
	assert.True(t, h.mgr.Machine().Addr.IsZero())
	assert.True(t, h.gate.active.Load())

	// A fresh beacon starts over.
	h.dialer.fail.Store(false)
	h.beacons <- addrB
	h.connect(t)
	h.waitState(t, Connected)
	assert.Equal(t, addrB, h.mgr.Machine().Addr)
}

func TestManager_StaticCoordinatorIsReseeded(t *testing.T) {
	h := startHarness(t, func(cfg *Config) {
		cfg.Coordinator = "10.0.0.9:12345"
	})
	h.dialer.fail.Store(true)

	require.Eventually(t, func() bool { return h.dialer.dials.Load() >= 4 },
		2*time.Second, 5*time.Millisecond, "static coordinator should be retried after giving up")
	assert.Contains(t, h.trans.snapshot(), GiveUp)

	h.dialer.fail.Store(false)
	h.connect(t)
	h.waitState(t, Connected)
}

func TestNewManager_Validation(t *testing.T) {
	deps := Deps{Probe: &fixedProbe{value: "1"}, Notifier: &recordingNotifier{}}

	_, err := NewManager(Config{}, deps, nil)
	assert.ErrorIs(t, err, protocol.ErrEmptyHostname)

	_, err = NewManager(Config{Hostname: "alice", Coordinator: "nope"}, deps, nil)
	assert.Error(t, err)

	_, err = NewManager(Config{Hostname: "alice"}, Deps{Notifier: &recordingNotifier{}}, nil)
	assert.Error(t, err)
}
