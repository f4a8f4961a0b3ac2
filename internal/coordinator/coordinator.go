// ABOUTME: Coordinator orchestrator wiring the session server, beacon, event hub, journal and control API
// ABOUTME: Owns startup order and the graceful shutdown sequence of every component

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/knyazev692/checkaso/internal/agent"
	"github.com/knyazev692/checkaso/internal/api"
	"github.com/knyazev692/checkaso/internal/auth"
	"github.com/knyazev692/checkaso/internal/config"
	"github.com/knyazev692/checkaso/internal/dedupe"
	"github.com/knyazev692/checkaso/internal/discovery"
	"github.com/knyazev692/checkaso/internal/events"
	"github.com/knyazev692/checkaso/internal/protocol"
	"github.com/knyazev692/checkaso/internal/store"
)

const (
	journalBufferSize = 1024
	pruneInterval     = time.Hour
	shutdownTimeout   = 5 * time.Second

	idempotencyCacheSize = 4096
)

// Coordinator runs the admin side of the protocol.
type Coordinator struct {
	config      *config.Config
	registry    *agent.Registry
	server      *agent.Server
	broadcaster *events.Broadcaster
	journal     *store.SQLiteStore
	api         *api.Server
	replay      *dedupe.Cache
	httpServer  *http.Server
	logger      *slog.Logger

	advertise protocol.CoordinatorAddress
	httpAddr  net.Addr
	ready     chan struct{}
	stop      chan struct{}

	// journalCancel stops the consumer if shutdown runs out of time.
	journalCancel context.CancelFunc
	journalWG     sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Coordinator from cfg. Nothing is bound until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	broadcaster := events.NewBroadcaster(logger)
	registry := agent.NewRegistry(broadcaster, logger)

	server := agent.NewServer(agent.ServerConfig{
		Addr:              cfg.Coordinator.ListenAddr,
		HandshakeTimeout:  cfg.Coordinator.HandshakeTimeout.D(),
		ReadTimeout:       cfg.Coordinator.ReadTimeout.D(),
		InitialProbeDelay: cfg.Coordinator.InitialProbeDelay.D(),
		KeepAlive:         cfg.Coordinator.KeepAlive.D(),
		Send: agent.SendPolicy{
			WriteTimeout: cfg.Coordinator.WriteTimeout.D(),
			Attempts:     cfg.Coordinator.SendAttempts,
			Backoff:      cfg.Coordinator.SendBackoff.D(),
		},
	}, registry, logger)

	c := &Coordinator{
		config:      cfg,
		registry:    registry,
		server:      server,
		broadcaster: broadcaster,
		logger:      logger.With("component", "coordinator"),
		ready:       make(chan struct{}),
		stop:        make(chan struct{}),
	}

	if cfg.Database.Path != "" {
		journal, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			broadcaster.Close()
			return nil, fmt.Errorf("opening journal: %w", err)
		}
		c.journal = journal
	}

	if cfg.Control.HTTPAddr != "" {
		apiCfg := api.Config{
			Sessions: registry,
			Stream:   broadcaster,
			Logger:   logger,
		}
		if c.journal != nil {
			apiCfg.History = c.journal
		}
		if cfg.Control.JWTSecret != "" {
			verifier, err := auth.NewJWTVerifier([]byte(cfg.Control.JWTSecret))
			if err != nil {
				c.closeStores()
				return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
			}
			apiCfg.Verifier = verifier
		}
		if ttl := cfg.Control.IdempotencyTTL.D(); ttl > 0 {
			c.replay = dedupe.New(ttl, idempotencyCacheSize)
			apiCfg.Replay = c.replay
		}
		c.api = api.New(apiCfg)
		c.httpServer = &http.Server{
			Addr:              cfg.Control.HTTPAddr,
			Handler:           c.api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return c, nil
}

// Registry exposes the session registry.
func (c *Coordinator) Registry() *agent.Registry {
	return c.registry
}

// Events exposes the event hub for in-process consumers.
func (c *Coordinator) Events() *events.Broadcaster {
	return c.broadcaster
}

// Ready is closed once every listener is bound.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.ready
}

// SessionAddr is the bound session listener address. Valid after Ready.
func (c *Coordinator) SessionAddr() net.Addr {
	return c.server.Addr()
}

// HTTPAddr is the bound control API address, or nil when disabled. Valid
// after Ready.
func (c *Coordinator) HTTPAddr() net.Addr {
	return c.httpAddr
}

// Advertised is the address announced in beacons. Valid after Ready.
func (c *Coordinator) Advertised() protocol.CoordinatorAddress {
	return c.advertise
}

// setupListeners binds the session port and the HTTP port.
func (c *Coordinator) setupListeners() (httpLn net.Listener, err error) {
	if err := c.server.Listen(); err != nil {
		return nil, err
	}

	if c.httpServer != nil {
		httpLn, err = net.Listen("tcp", c.config.Control.HTTPAddr)
		if err != nil {
			return nil, fmt.Errorf("listening on HTTP address: %w", err)
		}
		c.httpAddr = httpLn.Addr()
	}
	return httpLn, nil
}

// resolveAdvertise picks the IP to announce and pairs it with the bound
// session port.
func (c *Coordinator) resolveAdvertise() (protocol.CoordinatorAddress, error) {
	ip := c.config.Coordinator.AdvertiseIP
	if ip == "" {
		ip = discovery.OutboundIP()
	}
	tcpAddr, ok := c.server.Addr().(*net.TCPAddr)
	if !ok {
		return protocol.CoordinatorAddress{}, errors.New("session listener is not TCP")
	}
	return protocol.CoordinatorAddress{IP: ip, Port: tcpAddr.Port}, nil
}

// startServers starts each component in a goroutine, returning the error channel.
func (c *Coordinator) startServers(ctx context.Context, httpLn net.Listener, beacon *discovery.Beacon) chan error {
	errCh := make(chan error, 3)

	go func() {
		if err := c.server.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("session server: %w", err)
		}
	}()

	if beacon != nil {
		go func() {
			if err := beacon.Run(ctx); err != nil {
				errCh <- fmt.Errorf("discovery beacon: %w", err)
			}
		}()
	}

	if httpLn != nil {
		go func() {
			c.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
			if err := c.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	return errCh
}

// startJournal subscribes the journal to every event and starts retention.
func (c *Coordinator) startJournal(ctx context.Context) {
	if c.journal == nil {
		return
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	c.journalCancel = cancel
	ch, _ := c.broadcaster.SubscribeBuffered(consumeCtx, events.AllHosts, journalBufferSize)

	c.journalWG.Add(1)
	go func() {
		defer c.journalWG.Done()
		c.journal.Consume(consumeCtx, ch)
	}()

	if retention := c.config.Database.Retention.D(); retention > 0 {
		c.journalWG.Add(1)
		go func() {
			defer c.journalWG.Done()
			c.pruneLoop(ctx, retention)
		}()
	}
}

func (c *Coordinator) pruneLoop(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		if _, err := c.journal.Prune(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
			c.logger.Warn("journal prune failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails, then shuts everything down. It returns nil on a clean stop.
func (c *Coordinator) Run(ctx context.Context) error {
	httpLn, err := c.setupListeners()
	if err != nil {
		_ = c.gracefulShutdown()
		return err
	}

	c.advertise, err = c.resolveAdvertise()
	if err != nil {
		_ = c.gracefulShutdown()
		return err
	}

	var beacon *discovery.Beacon
	if c.config.Discovery.Enabled {
		beacon, err = discovery.NewBeacon(discovery.BeaconConfig{
			Advertise: c.advertise,
			Broadcast: c.config.Discovery.Broadcast,
			Port:      c.config.Discovery.Port,
			Interval:  c.config.Discovery.Interval.D(),
		}, c.logger)
		if err != nil {
			if httpLn != nil {
				_ = httpLn.Close()
			}
			_ = c.gracefulShutdown()
			return err
		}
	}

	c.logger.Info("starting coordinator",
		"session_addr", c.server.Addr().String(),
		"advertise", c.advertise.String(),
		"discovery", c.config.Discovery.Enabled,
		"journal", c.journal != nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	c.startJournal(runCtx)
	errCh := c.startServers(runCtx, httpLn, beacon)
	close(c.ready)

	var serverErr error
	select {
	case <-ctx.Done():
		c.logger.Info("context canceled, initiating shutdown")
	case <-c.stop:
	case serverErr = <-errCh:
		c.logger.Error("server error", "error", serverErr)
	}
	cancel()

	shutdownErr := c.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (c *Coordinator) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, closes every session, drains the
// journal and releases resources. Later calls return the first result.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.shutdown(ctx)
	})
	return c.shutdownErr
}

func (c *Coordinator) shutdown(ctx context.Context) error {
	c.logger.Info("shutting down coordinator")
	close(c.stop)

	var errs []error
	if c.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", c.httpServer.Shutdown(ctx))
	}
	errs = appendCloseError(errs, "session server shutdown", c.server.Shutdown(ctx))

	// Closing the hub ends every subscription, which lets the journal
	// consumer drain what is buffered and return.
	c.broadcaster.Close()

	if c.journal != nil {
		done := make(chan struct{})
		go func() {
			c.journalWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			c.journalCancel()
			errs = appendCloseError(errs, "journal drain", ctx.Err())
		}
	}
	c.closeStores()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func (c *Coordinator) closeStores() {
	if c.journalCancel != nil {
		c.journalCancel()
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			c.logger.Warn("closing journal", "error", err)
		}
	}
	if c.replay != nil {
		c.replay.Close()
	}
	c.broadcaster.Close()
}
