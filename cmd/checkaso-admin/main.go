// ABOUTME: Entry point for checkaso-admin, the coordinator and its control CLI
// ABOUTME: Dispatches serve, agents, send, check, broadcast, history and token subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
)

// Version is set at build time.
var version = "dev"

const banner = `
       _               _
   ___| |__   ___  ___| | ____ _ ___  ___
  / __| '_ \ / _ \/ __| |/ / _' / __|/ _ \
 | (__| | | |  __/ (__|   < (_| \__ \ (_) |
  \___|_| |_|\___|\___|_|\_\__,_|___/\___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx, args)
	case "agents":
		err = runAgents(ctx, args)
	case "send":
		err = runSend(ctx, args)
	case "check":
		err = runCheck(ctx, args)
	case "broadcast":
		err = runBroadcast(ctx, args)
	case "history":
		err = runHistory(ctx, args)
	case "token":
		err = runToken(args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: checkaso-admin <command> [flags] [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  serve                        Run the coordinator")
	fmt.Println("  agents                       List connected agents and their DND state")
	fmt.Println("  send <hostname> <text>       Show a message on one agent")
	fmt.Println("  check <hostname>             Ask one agent for its DND state")
	fmt.Println("  broadcast [--host H]... <text>")
	fmt.Println("                               Show a message on all or selected agents")
	fmt.Println("  history [--host H] [--kind K] [--limit N]")
	fmt.Println("                               Show journaled session events")
	fmt.Println("  token --subject NAME [--ttl 720h]")
	fmt.Println("                               Mint a control API token")
	fmt.Println("  version                      Print the version")
	fmt.Println()
	yellow.Println("Common flags:")
	fmt.Println("  -c, --config PATH            Config file (default: $CHECKASO_CONFIG or XDG path)")
	fmt.Println("      --url URL                Control API URL (client commands)")
	fmt.Println("      --token JWT              Control API token (or CHECKASO_TOKEN)")
	fmt.Println()
}

// newFlagSet creates a flag set carrying the flags every command accepts.
func newFlagSet(name string, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(configPath, "config", "c", "", "config file path")
	return fs
}
