// ABOUTME: End-to-end tests for the coordinator over loopback sockets
// ABOUTME: Covers beacon contents, agent admission, API commands and journaling through shutdown

package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knyazev692/checkaso/internal/api"
	"github.com/knyazev692/checkaso/internal/config"
	"github.com/knyazev692/checkaso/internal/events"
	"github.com/knyazev692/checkaso/internal/protocol"
	"github.com/knyazev692/checkaso/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Coordinator.ListenAddr = "127.0.0.1:0"
	cfg.Coordinator.AdvertiseIP = "127.0.0.1"
	cfg.Coordinator.InitialProbeDelay = config.Duration(time.Hour)
	cfg.Control.HTTPAddr = "127.0.0.1:0"
	cfg.Discovery.Enabled = false
	return cfg
}

func start(t *testing.T, cfg *config.Config) (*Coordinator, <-chan error, context.CancelFunc) {
	t.Helper()
	c, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-c.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("coordinator exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("coordinator not ready")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return c, done, cancel
}

type testAgent struct {
	conn   net.Conn
	reader *bufio.Reader
}

func connectAgent(t *testing.T, addr, hostname string) *testAgent {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Write([]byte(hostname + "\n"))
	require.NoError(t, err)

	a := &testAgent{conn: conn, reader: bufio.NewReader(conn)}
	assert.Equal(t, protocol.HandshakeAck, a.readLine(t))
	return a
}

func (a *testAgent) readLine(t *testing.T) string {
	t.Helper()
	_ = a.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := a.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimRight(line, "\r\n")
}

func TestCoordinator_AgentLifecycleThroughAPI(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Path = filepath.Join(t.TempDir(), "journal.db")

	c, done, cancel := start(t, cfg)
	base := "http://" + c.HTTPAddr().String()

	a := connectAgent(t, c.SessionAddr().String(), "desk-07")
	_, err := a.conn.Write([]byte("dnd_status:0\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, ok := c.Registry().Get("desk-07")
		return ok && s.DND() == "0"
	}, 3*time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/api/agents")
	require.NoError(t, err)
	var agents api.AgentsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agents))
	resp.Body.Close()
	require.Equal(t, 1, agents.Count)
	assert.Equal(t, "desk-07", agents.Agents[0].Hostname)
	assert.Equal(t, "0", agents.Agents[0].DND)

	resp, err = http.Post(base+"/api/agents/desk-07/message", "application/json",
		strings.NewReader(`{"text":"meeting in 5"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "display_message:meeting in 5", a.readLine(t))

	_, err = a.conn.Write([]byte("message_displayed\n"))
	require.NoError(t, err)

	// History is served from the journal while running.
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/history?hostname=desk-07")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var h api.HistoryResponse
		if json.NewDecoder(resp.Body).Decode(&h) != nil {
			return false
		}
		return len(h.Events) == 3
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	// The agent's socket is closed by shutdown.
	_ = a.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = a.reader.ReadString('\n')
	require.Error(t, err)

	journal, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	defer journal.Close()

	list, err := journal.ListEvents(context.Background(), store.EventFilter{Hostname: "desk-07"})
	require.NoError(t, err)
	kinds := make([]events.Kind, 0, len(list))
	for _, e := range list {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []events.Kind{
		events.KindSessionRemoved,
		events.KindMessageDisplayed,
		events.KindDNDStatusChanged,
		events.KindSessionEstablished,
	}, kinds)
}

func TestCoordinator_BeaconAdvertisesBoundPort(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	cfg := testConfig(t)
	cfg.Control.HTTPAddr = ""
	cfg.Discovery.Enabled = true
	cfg.Discovery.Broadcast = "127.0.0.1"
	cfg.Discovery.Port = pc.LocalAddr().(*net.UDPAddr).Port
	cfg.Discovery.Interval = config.Duration(50 * time.Millisecond)

	c, _, _ := start(t, cfg)
	assert.Nil(t, c.HTTPAddr())

	buf := make([]byte, 512)
	_ = pc.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	addr, err := protocol.ParseBeacon(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr.IP)
	assert.Equal(t, c.SessionAddr().(*net.TCPAddr).Port, addr.Port)
	assert.Equal(t, addr, c.Advertised())
}

func TestCoordinator_ShutdownFromOutsideRun(t *testing.T) {
	c, done, _ := start(t, testConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	require.NoError(t, c.Shutdown(ctx))
}

func TestCoordinator_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Coordinator.ListenAddr = ln.Addr().String()

	c, err := New(cfg, nil)
	require.NoError(t, err)
	require.Error(t, c.Run(context.Background()))
}

func TestNew_WeakSecretRejected(t *testing.T) {
	cfg := testConfig(t)
	cfg.Control.JWTSecret = "short"
	_, err := New(cfg, nil)
	require.Error(t, err)
}
