// ABOUTME: The serve subcommand: loads config, prints the banner and runs the coordinator
// ABOUTME: Blocks until SIGINT or SIGTERM

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/knyazev692/checkaso/internal/config"
	"github.com/knyazev692/checkaso/internal/coordinator"
	"github.com/knyazev692/checkaso/internal/logging"
)

func runServe(ctx context.Context, args []string) error {
	var configPath string
	fs := newFlagSet("serve", &configPath)
	listen := fs.String("listen", "", "override coordinator.listen_addr")
	httpAddr := fs.String("http", "", "override control.http_addr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, path, err := config.LoadResolved(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *listen != "" {
		cfg.Coordinator.ListenAddr = *listen
	}
	if *httpAddr != "" {
		cfg.Control.HTTPAddr = *httpAddr
	}

	logger, closer := logging.Setup(cfg.Logging)
	defer closer.Close()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if path == "" {
		path = "(defaults)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("Sessions:  %s\n", cfg.Coordinator.ListenAddr)
	green.Print("    ▶ ")
	if cfg.Discovery.Enabled {
		fmt.Printf("Discovery: udp/%d every %s\n", cfg.Discovery.Port, cfg.Discovery.Interval)
	} else {
		gray.Println("Discovery: disabled")
	}
	green.Print("    ▶ ")
	if cfg.Control.HTTPAddr != "" {
		fmt.Printf("Control:   %s", cfg.Control.HTTPAddr)
		if cfg.Control.JWTSecret == "" {
			yellow.Print(" [no auth]")
		}
		fmt.Println()
	} else {
		gray.Println("Control:   disabled")
	}
	green.Print("    ▶ ")
	if cfg.Database.Path != "" {
		fmt.Printf("Journal:   %s\n", cfg.Database.Path)
	} else {
		gray.Println("Journal:   disabled")
	}
	fmt.Println()

	logger.Info("starting checkaso coordinator",
		"config", path,
		"listen_addr", cfg.Coordinator.ListenAddr,
		"http_addr", cfg.Control.HTTPAddr,
	)

	c, err := coordinator.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}
	return c.Run(ctx)
}
