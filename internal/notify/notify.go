// ABOUTME: Desktop notifications for messages pushed by the coordinator.
// ABOUTME: Runs a platform command fire-and-forget, rate limited, with a timeout.

// Package notify shows coordinator messages to the person at the desk.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Notifier shows a message. Show returns without waiting for the user and
// reports whether the message was accepted for display.
type Notifier interface {
	Show(title, body string) bool
}

// LogNotifier only logs messages. It is the fallback on hosts without a
// notification command.
type LogNotifier struct {
	Logger *slog.Logger
}

// Show logs the message at info level. It always accepts.
func (n LogNotifier) Show(title, body string) bool {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("message received", "title", title, "body", body)
	return true
}

// Placeholders substituted into command arguments.
const (
	TitlePlaceholder = "{title}"
	BodyPlaceholder  = "{body}"
)

// DefaultCommand is the platform's notification command, or nil when
// there is none.
func DefaultCommand() []string {
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		return []string{"notify-send", "--app-name=checkaso", TitlePlaceholder, BodyPlaceholder}
	case "darwin":
		return []string{"osascript", "-e",
			"display notification " + BodyPlaceholder + " with title " + TitlePlaceholder}
	case "windows":
		return []string{"msg", "*", "/TIME:60", TitlePlaceholder + ": " + BodyPlaceholder}
	default:
		return nil
	}
}

// Config tunes a CommandNotifier.
type Config struct {
	Command []string
	Timeout time.Duration
	// Rate is notifications per second; Burst is how many may arrive at once.
	Rate  float64
	Burst int
}

// DefaultConfig allows a burst of three messages and one more every ten
// seconds after that.
func DefaultConfig() Config {
	return Config{
		Command: DefaultCommand(),
		Timeout: 10 * time.Second,
		Rate:    0.1,
		Burst:   3,
	}
}

type runFunc func(ctx context.Context, name string, args ...string) error

func execRun(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// CommandNotifier runs an external command per message. Messages beyond
// the rate limit are logged and dropped.
type CommandNotifier struct {
	cfg     Config
	limiter *rate.Limiter
	run     runFunc
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// ErrNoCommand is returned when no notification command is configured.
var ErrNoCommand = errors.New("no notification command configured")

// NewCommandNotifier validates cfg.
func NewCommandNotifier(cfg Config, logger *slog.Logger) (*CommandNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, ErrNoCommand
	}
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return &CommandNotifier{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		run:     execRun,
		logger:  logger.With("component", "notify"),
	}, nil
}

// Show starts the command in the background. It returns false when the
// message was dropped by the rate limit.
func (n *CommandNotifier) Show(title, body string) bool {
	if !n.limiter.Allow() {
		n.logger.Warn("notification rate limit exceeded, dropping message", "title", title)
		return false
	}

	args := make([]string, len(n.cfg.Command)-1)
	r := strings.NewReplacer(TitlePlaceholder, quoteFor(n.cfg.Command, title), BodyPlaceholder, quoteFor(n.cfg.Command, body))
	for i, a := range n.cfg.Command[1:] {
		args[i] = r.Replace(a)
	}
	name := n.cfg.Command[0]

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
		defer cancel()

		if err := n.run(ctx, name, args...); err != nil {
			n.logger.Warn("notification command failed", "command", name, "error", err)
			return
		}
		n.logger.Debug("notification shown", "command", name)
	}()
	return true
}

// Wait blocks until every started command has exited.
func (n *CommandNotifier) Wait() {
	n.wg.Wait()
}

// quoteFor renders s as an AppleScript string literal when the command is
// osascript; other commands receive s unchanged as a single argument.
func quoteFor(command []string, s string) string {
	if len(command) == 0 || !strings.HasSuffix(command[0], "osascript") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// New returns a CommandNotifier for cfg, or a LogNotifier when no command
// is available.
func New(cfg Config, logger *slog.Logger) Notifier {
	n, err := NewCommandNotifier(cfg, logger)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Info("no notification command, messages will only be logged")
		return LogNotifier{Logger: logger}
	}
	return n
}
