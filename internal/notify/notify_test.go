// ABOUTME: Tests for CommandNotifier argument substitution, rate limiting and timeouts.
// ABOUTME: The exec runner is replaced so no real notification is shown.

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	err   error
	block bool
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args})
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

func (f *fakeRunner) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newTestNotifier(t *testing.T, cfg Config) (*CommandNotifier, *fakeRunner) {
	t.Helper()
	n, err := NewCommandNotifier(cfg, nil)
	require.NoError(t, err)
	f := &fakeRunner{}
	n.run = f.run
	return n, f
}

func TestCommandNotifier_SubstitutesPlaceholders(t *testing.T) {
	n, f := newTestNotifier(t, Config{Command: []string{"notify-send", "{title}", "{body}"}})

	n.Show("Message from server", "Lunch at 12:30; bring \"snacks\"")
	n.Wait()

	calls := f.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "notify-send", calls[0].name)
	assert.Equal(t, []string{"Message from server", "Lunch at 12:30; bring \"snacks\""}, calls[0].args)
}

func TestCommandNotifier_QuotesForOsascript(t *testing.T) {
	n, f := newTestNotifier(t, Config{Command: []string{"/usr/bin/osascript", "-e", "display notification {body} with title {title}"}})

	n.Show("Hi", `say "hello"`)
	n.Wait()

	calls := f.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, `display notification "say \"hello\"" with title "Hi"`, calls[0].args[1])
}

func TestCommandNotifier_RateLimit(t *testing.T) {
	n, f := newTestNotifier(t, Config{Command: []string{"true"}, Rate: 0.001, Burst: 2})

	var accepted []bool
	for range 5 {
		accepted = append(accepted, n.Show("t", "b"))
	}
	n.Wait()
	assert.Len(t, f.snapshot(), 2)
	assert.Equal(t, []bool{true, true, false, false, false}, accepted)
}

func TestCommandNotifier_TimeoutAndFailureDoNotBlock(t *testing.T) {
	n, f := newTestNotifier(t, Config{Command: []string{"slow"}, Timeout: 200 * time.Millisecond})
	f.block = true

	start := time.Now()
	n.Show("t", "b")
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Show must not wait for the command")

	n.Wait()
	f.block = false
	f.err = errors.New("exit status 1")
	n.Show("t", "b")
	n.Wait()
	assert.Len(t, f.snapshot(), 2)
}

func TestNewCommandNotifier_RequiresCommand(t *testing.T) {
	_, err := NewCommandNotifier(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestNew_FallsBackToLog(t *testing.T) {
	n := New(Config{}, nil)
	_, ok := n.(LogNotifier)
	assert.True(t, ok)
	assert.True(t, n.Show("title", "body"))
}
