// ABOUTME: Entry point for checkaso-agent, the per-desk DND reporter and message display
// ABOUTME: Dispatches run, probe and listen subcommands

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

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runAgent(ctx, os.Args[2:])
	case "probe":
		err = runProbe(os.Args[2:])
	case "listen":
		err = runListen(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
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
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: checkaso-agent <command> [flags]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  run       Connect to the coordinator and report DND state")
	fmt.Println("  probe     Print the current DND value and exit")
	fmt.Println("  listen    Print every discovery beacon received")
	fmt.Println("  version   Print the version")
	fmt.Println()
	yellow.Println("Flags:")
	fmt.Println("  -c, --config PATH        Config file (default: $CHECKASO_CONFIG or XDG path)")
	fmt.Println("      --hostname NAME      Override agent.hostname (run)")
	fmt.Println("      --coordinator ADDR   Static coordinator ip:port, skips discovery (run)")
	fmt.Println("      --file PATH          Override dnd.file (run, probe)")
	fmt.Println()
}

func newFlagSet(name string, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(configPath, "config", "c", "", "config file path")
	return fs
}
