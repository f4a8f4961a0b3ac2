// ABOUTME: Client subcommands that talk to a running coordinator over the control API
// ABOUTME: Also mints control tokens locally from the configured secret

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/knyazev692/checkaso/internal/auth"
	"github.com/knyazev692/checkaso/internal/config"
	"github.com/knyazev692/checkaso/internal/events"
)

// truncate shortens a string to maxLen, adding "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func dndLabel(v string) string {
	switch v {
	case "1":
		return color.RedString("busy")
	case "0":
		return color.GreenString("available")
	default:
		return color.HiBlackString("unknown")
	}
}

func runAgents(ctx context.Context, args []string) error {
	var flags clientFlags
	fs := newFlagSet("agents", &flags.configPath)
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := flags.client()
	if err != nil {
		return err
	}

	resp, err := c.Agents(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	if resp.Count == 0 {
		color.New(color.FgYellow).Println("  No agents connected")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  HOSTNAME\tIP\tDND\tCONNECTED\tLAST SEEN")
	fmt.Fprintln(w, "  --------\t--\t---\t---------\t---------")
	for _, a := range resp.Agents {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(a.Hostname, 32),
			a.IP,
			dndLabel(a.DND),
			a.ConnectedAt.Local().Format("Jan 02 15:04:05"),
			time.Since(a.LastActivity).Round(time.Second))
	}
	w.Flush()
	fmt.Printf("\n  %d agent(s)\n\n", resp.Count)
	return nil
}

func runSend(ctx context.Context, args []string) error {
	var flags clientFlags
	fs := newFlagSet("send", &flags.configPath)
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: checkaso-admin send <hostname> <text>")
	}
	c, err := flags.client()
	if err != nil {
		return err
	}

	hostname := fs.Arg(0)
	if err := c.Send(ctx, hostname, strings.Join(fs.Args()[1:], " ")); err != nil {
		return err
	}
	color.Green("Message sent to %s\n", hostname)
	return nil
}

func runCheck(ctx context.Context, args []string) error {
	var flags clientFlags
	fs := newFlagSet("check", &flags.configPath)
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: checkaso-admin check <hostname>")
	}
	c, err := flags.client()
	if err != nil {
		return err
	}

	if err := c.Check(ctx, fs.Arg(0)); err != nil {
		return err
	}
	color.Green("DND check requested from %s\n", fs.Arg(0))
	return nil
}

func runBroadcast(ctx context.Context, args []string) error {
	var flags clientFlags
	fs := newFlagSet("broadcast", &flags.configPath)
	flags.register(fs)
	hosts := fs.StringArray("host", nil, "target hostname (repeatable, default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: checkaso-admin broadcast [--host H]... <text>")
	}
	c, err := flags.client()
	if err != nil {
		return err
	}

	resp, err := c.Broadcast(ctx, strings.Join(fs.Args(), " "), *hosts)
	if err != nil {
		return err
	}

	fmt.Println()
	for _, r := range resp.Results {
		if r.Sent {
			color.New(color.FgGreen).Printf("  ✓ %s\n", r.Hostname)
		} else {
			color.New(color.FgRed).Printf("  ✗ %s: %s\n", r.Hostname, r.Error)
		}
	}
	fmt.Printf("\n  sent %d, failed %d\n\n", resp.Sent, resp.Failed)
	if resp.Failed > 0 && resp.Sent == 0 {
		return errors.New("no agent received the message")
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	var flags clientFlags
	fs := newFlagSet("history", &flags.configPath)
	flags.register(fs)
	host := fs.String("host", "", "only events for this hostname")
	kind := fs.String("kind", "", "only events of this kind")
	limit := fs.IntP("limit", "n", 50, "maximum number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *kind != "" && !events.Kind(*kind).Valid() {
		return fmt.Errorf("unknown kind %q", *kind)
	}
	c, err := flags.client()
	if err != nil {
		return err
	}

	resp, err := c.History(ctx, *host, *kind, *limit)
	if err != nil {
		return err
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tHOSTNAME\tEVENT\tVALUE\tIP")
	fmt.Fprintln(w, "  ----\t--------\t-----\t-----\t--")
	for _, e := range resp.Events {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.Time.Local().Format("Jan 02 15:04:05"),
			truncate(e.Hostname, 32),
			e.Kind,
			e.Value,
			e.IP)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func runToken(args []string) error {
	var configPath string
	fs := newFlagSet("token", &configPath)
	subject := fs.String("subject", "", "token subject (operator name)")
	ttl := fs.Duration("ttl", 720*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("--subject is required")
	}

	cfg, _, err := config.LoadResolved(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Control.JWTSecret == "" {
		return errors.New("control.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Control.JWTSecret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(*subject, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Token for %s, expires %s\n", *subject, time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Println(token)
	return nil
}
