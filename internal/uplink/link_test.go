// ABOUTME: Runs the real agent Manager against the real coordinator session server.
// ABOUTME: Timings are scaled down so several liveness windows pass in a couple of seconds.

package uplink_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knyazev692/checkaso/internal/agent"
	"github.com/knyazev692/checkaso/internal/events"
	"github.com/knyazev692/checkaso/internal/protocol"
	"github.com/knyazev692/checkaso/internal/uplink"
)

type deskProbe struct {
	mu    sync.Mutex
	value string
}

func (p *deskProbe) Read() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *deskProbe) set(v string) {
	p.mu.Lock()
	p.value = v
	p.mu.Unlock()
}

type deskNotifier struct {
	shown chan string
}

func (n *deskNotifier) Show(title, body string) bool {
	n.shown <- body
	return true
}

type eventLog struct {
	mu  sync.Mutex
	all []events.Event
}

func (l *eventLog) count(kind events.Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.all {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type link struct {
	registry *agent.Registry
	log      *eventLog
	probe    *deskProbe
	notifier *deskNotifier
	connects atomic.Int32
}

const (
	livenessTimeout = 600 * time.Millisecond
	readTimeout     = 300 * time.Millisecond
)

func startLink(t *testing.T) *link {
	t.Helper()

	b := events.NewBroadcaster(nil)
	t.Cleanup(b.Close)
	ch, _ := b.SubscribeBuffered(t.Context(), events.AllHosts, 256)

	l := &link{
		registry: agent.NewRegistry(b, nil),
		log:      &eventLog{},
		probe:    &deskProbe{value: "1"},
		notifier: &deskNotifier{shown: make(chan string, 4)},
	}
	go func() {
		for e := range ch {
			l.log.mu.Lock()
			l.log.all = append(l.log.all, e)
			l.log.mu.Unlock()
		}
	}()

	scfg := agent.DefaultServerConfig()
	scfg.Addr = "127.0.0.1:0"
	scfg.HandshakeTimeout = time.Second
	scfg.ReadTimeout = readTimeout
	scfg.InitialProbeDelay = 20 * time.Millisecond
	scfg.Send.Backoff = 10 * time.Millisecond
	srv := agent.NewServer(scfg, l.registry, nil)
	require.NoError(t, srv.Listen())

	srvCtx, srvCancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(srvCtx) }()

	ucfg := uplink.DefaultConfig()
	ucfg.Hostname = "desk-07"
	ucfg.Coordinator = srv.Addr().String()
	ucfg.HandshakeTimeout = time.Second
	ucfg.WriteTimeout = time.Second
	ucfg.HeartbeatInterval = 100 * time.Millisecond
	ucfg.LivenessTimeout = livenessTimeout
	ucfg.ReconnectDelay = 50 * time.Millisecond
	ucfg.DNDPollInterval = 50 * time.Millisecond

	mgr, err := uplink.NewManager(ucfg, uplink.Deps{
		Probe:    l.probe,
		Notifier: l.notifier,
		OnTransition: func(from, to uplink.Machine) {
			if to.State == uplink.Connected {
				l.connects.Add(1)
			}
		},
	}, nil)
	require.NoError(t, err)

	mgrCtx, mgrCancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	go func() {
		assert.NoError(t, mgr.Run(mgrCtx))
		close(ran)
	}()

	t.Cleanup(func() {
		mgrCancel()
		<-ran
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		assert.NoError(t, srv.Shutdown(shutdownCtx))
		srvCancel()
		assert.NoError(t, <-served)
	})

	require.Eventually(t, func() bool {
		_, ok := l.registry.Get("desk-07")
		return ok
	}, 3*time.Second, 10*time.Millisecond, "agent never registered")
	return l
}

func TestLink_HealthySessionOutlivesLivenessWindows(t *testing.T) {
	l := startLink(t)
	first, _ := l.registry.Get("desk-07")

	time.Sleep(4 * livenessTimeout)

	cur, ok := l.registry.Get("desk-07")
	require.True(t, ok)
	assert.Equal(t, first.ID, cur.ID, "session was replaced")
	assert.Equal(t, 1, l.log.count(events.KindSessionEstablished))
	assert.Zero(t, l.log.count(events.KindSessionRemoved))
	assert.Equal(t, int32(1), l.connects.Load())
}

func TestLink_MessageAndDNDFlow(t *testing.T) {
	l := startLink(t)

	require.Eventually(t, func() bool {
		s, ok := l.registry.Get("desk-07")
		return ok && s.DND() == "1"
	}, 2*time.Second, 10*time.Millisecond)

	l.probe.set("0")
	require.Eventually(t, func() bool {
		s, ok := l.registry.Get("desk-07")
		return ok && s.DND() == "0"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, l.registry.Send("desk-07", protocol.DisplayMessage("Fire drill at 3")))
	select {
	case body := <-l.notifier.shown:
		assert.Equal(t, "Fire drill at 3", body)
	case <-time.After(2 * time.Second):
		t.Fatal("message never shown")
	}
	require.Eventually(t, func() bool {
		return l.log.count(events.KindMessageDisplayed) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
