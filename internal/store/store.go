// ABOUTME: Journal types and the Journal interface for session event history.
// ABOUTME: Filters are applied in SQL; results are newest first.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/knyazev692/checkaso/internal/events"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("store closed")

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	Hostname string
	Kind     events.Kind
	Since    *time.Time
	Until    *time.Time
	Limit    int // default 100, max 1000
}

// Journal persists session events.
type Journal interface {
	AppendEvent(ctx context.Context, e events.Event) error
	ListEvents(ctx context.Context, f EventFilter) ([]events.Event, error)
	Close() error
}

var _ Journal = (*SQLiteStore)(nil)

// normalizeLimit applies default (100) and cap (1000).
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
