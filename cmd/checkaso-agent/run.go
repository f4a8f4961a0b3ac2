// ABOUTME: The run subcommand wiring discovery, DND probe, notifier and connection manager
// ABOUTME: Also hosts the probe and listen diagnostics

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/knyazev692/checkaso/internal/config"
	"github.com/knyazev692/checkaso/internal/discovery"
	"github.com/knyazev692/checkaso/internal/dnd"
	"github.com/knyazev692/checkaso/internal/logging"
	"github.com/knyazev692/checkaso/internal/notify"
	"github.com/knyazev692/checkaso/internal/protocol"
	"github.com/knyazev692/checkaso/internal/uplink"
)

// notifyConfig maps the config section onto notify.Config. An empty
// command means the platform default and "log" means no command.
func notifyConfig(c config.NotifyConfig) notify.Config {
	cmd := c.Command
	switch {
	case len(cmd) == 0:
		cmd = notify.DefaultCommand()
	case len(cmd) == 1 && cmd[0] == "log":
		cmd = nil
	}
	return notify.Config{
		Command: cmd,
		Timeout: c.Timeout.D(),
		Rate:    c.Rate,
		Burst:   c.Burst,
	}
}

// uplinkConfig maps the agent and dnd sections onto uplink.Config.
func uplinkConfig(cfg *config.Config, hostname string) uplink.Config {
	return uplink.Config{
		Hostname:          hostname,
		Coordinator:       cfg.Agent.Coordinator,
		ConnectTimeout:    cfg.Agent.ConnectTimeout.D(),
		HandshakeTimeout:  cfg.Agent.HandshakeTimeout.D(),
		WriteTimeout:      cfg.Agent.WriteTimeout.D(),
		HeartbeatInterval: cfg.Agent.HeartbeatInterval.D(),
		LivenessTimeout:   cfg.Agent.LivenessTimeout.D(),
		ReconnectDelay:    cfg.Agent.ReconnectDelay.D(),
		DNDPollInterval:   cfg.DND.PollInterval.D(),
		MaxFailures:       cfg.Agent.MaxFailures,
		MessageTitle:      cfg.Notify.Title,
	}
}

func runAgent(ctx context.Context, args []string) error {
	var configPath string
	fs := newFlagSet("run", &configPath)
	hostname := fs.String("hostname", "", "override agent.hostname")
	coordinatorAddr := fs.String("coordinator", "", "static coordinator ip:port")
	file := fs.String("file", "", "override dnd.file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, path, err := config.LoadResolved(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *hostname != "" {
		cfg.Agent.Hostname = *hostname
	}
	if *coordinatorAddr != "" {
		cfg.Agent.Coordinator = *coordinatorAddr
	}
	if *file != "" {
		cfg.DND.File = *file
	}
	if cfg.Agent.Hostname == "" {
		if cfg.Agent.Hostname, err = os.Hostname(); err != nil {
			return fmt.Errorf("determining hostname: %w", err)
		}
	}
	if !cfg.Discovery.Enabled && cfg.Agent.Coordinator == "" {
		return errors.New("discovery is disabled and agent.coordinator is not set")
	}

	logger, closer := logging.Setup(cfg.Logging)
	defer closer.Close()

	probe := dnd.NewProbe(cfg.DND.File, logger)
	notifier := notify.New(notifyConfig(cfg.Notify), logger)
	if cn, ok := notifier.(*notify.CommandNotifier); ok {
		defer cn.Wait()
	}

	listener := discovery.NewListener(cfg.Discovery.Port, logger)
	deps := uplink.Deps{
		Dialer:   &net.Dialer{KeepAlive: cfg.Agent.HeartbeatInterval.D()},
		Probe:    probe,
		Notifier: notifier,
		OnTransition: func(from, to uplink.Machine) {
			logger.Debug("uplink transition", "from", from.State.String(), "to", to.State.String())
		},
	}
	if cfg.Discovery.Enabled {
		deps.Beacons = listener.Beacons()
		deps.Gate = listener
	}

	mgr, err := uplink.NewManager(uplinkConfig(cfg, cfg.Agent.Hostname), deps, logger)
	if err != nil {
		return err
	}

	logger.Info("starting checkaso agent",
		"version", version,
		"config", path,
		"hostname", cfg.Agent.Hostname,
		"coordinator", cfg.Agent.Coordinator,
		"dnd_file", probe.Path())

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Discovery.Enabled {
		g.Go(func() error { return listener.Run(gctx) })
	}
	g.Go(func() error { return mgr.Run(gctx) })

	err = g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("agent stopped")
	return err
}

func runProbe(args []string) error {
	var configPath string
	fs := newFlagSet("probe", &configPath)
	file := fs.String("file", "", "override dnd.file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := config.LoadResolved(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *file != "" {
		cfg.DND.File = *file
	}

	probe := dnd.NewProbe(cfg.DND.File, slog.New(slog.DiscardHandler))
	value := probe.Read()

	color.New(color.FgHiBlack).Printf("%s\n", probe.Path())
	if value == "0" {
		color.Green("DND=0 (available)\n")
	} else {
		color.Red("DND=%s (busy)\n", value)
	}
	return nil
}

func runListen(ctx context.Context, args []string) error {
	var configPath string
	fs := newFlagSet("listen", &configPath)
	port := fs.Int("port", 0, "override discovery.port")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, _, err := config.LoadResolved(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *port > 0 {
		cfg.Discovery.Port = *port
	}

	logger, closer := logging.Setup(cfg.Logging)
	defer closer.Close()

	cyan := color.New(color.FgCyan)
	l := discovery.NewListener(cfg.Discovery.Port, logger)
	l.SetActive(false)
	l.OnBeacon = func(addr protocol.CoordinatorAddress, from net.Addr) {
		fmt.Printf("%s  ", time.Now().Format("15:04:05"))
		cyan.Print(addr.String())
		fmt.Printf("  from %s\n", from.String())
	}

	fmt.Printf("Listening for beacons on udp/%d (Ctrl-C to stop)\n", cfg.Discovery.Port)
	return l.Run(ctx)
}
