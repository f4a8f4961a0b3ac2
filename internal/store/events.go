// ABOUTME: Append, list, prune and consume session events in the SQLite journal.
// ABOUTME: Timestamps are stored as fixed-width UTC strings so they sort lexically.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/knyazev692/checkaso/internal/events"
)

// tsLayout is RFC 3339 with fixed nanoseconds, sortable as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// AppendEvent stores e. A missing ID or time is filled in.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e events.Event) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("invalid event kind %q", e.Kind)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	query := `
		INSERT INTO session_events (event_id, kind, hostname, ip, session_id, value, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		string(e.Kind),
		e.Hostname,
		nullString(e.IP),
		nullString(e.SessionID),
		nullString(e.Value),
		formatTS(e.Time),
	)
	if err != nil {
		return fmt.Errorf("inserting session event: %w", err)
	}

	s.logger.Debug("journaled event",
		"id", e.ID,
		"kind", e.Kind,
		"hostname", e.Hostname)
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const listEventsQuery = `
	SELECT event_id, kind, hostname, ip, session_id, value, ts
	FROM session_events
	WHERE (? IS NULL OR hostname = ?)
	  AND (? IS NULL OR kind = ?)
	  AND (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	ORDER BY ts DESC, seq DESC
	LIMIT ?
`

// ListEvents returns events matching f, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]events.Event, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var host, kind, since, until any
	if f.Hostname != "" {
		host = f.Hostname
	}
	if f.Kind != "" {
		kind = string(f.Kind)
	}
	if f.Since != nil {
		since = formatTS(*f.Since)
	}
	if f.Until != nil {
		until = formatTS(*f.Until)
	}

	rows, err := s.db.QueryContext(ctx, listEventsQuery,
		host, host,
		kind, kind,
		since, since,
		until, until,
		normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying session events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []events.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session events: %w", err)
	}
	return out, nil
}

func scanEvent(scanner interface{ Scan(dest ...any) error }) (events.Event, error) {
	var (
		e                    events.Event
		kind, ts             string
		ip, sessionID, value sql.NullString
	)
	if err := scanner.Scan(&e.ID, &kind, &e.Hostname, &ip, &sessionID, &value, &ts); err != nil {
		return e, fmt.Errorf("scanning session event: %w", err)
	}
	e.Kind = events.Kind(kind)
	e.IP = ip.String
	e.SessionID = sessionID.String
	e.Value = value.String

	t, err := time.Parse(tsLayout, ts)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}
	e.Time = t
	return e, nil
}

// Prune deletes events older than cutoff and reports how many went.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_events WHERE ts < ?`, formatTS(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning session events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned events: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned session events", "count", n, "before", cutoff.UTC().Format(time.RFC3339))
	}
	return n, nil
}

// Consume journals every event from ch until ch is closed or ctx ends.
// Write failures are logged and skipped.
func (s *SQLiteStore) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := s.AppendEvent(ctx, e); err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return
				}
				s.logger.Warn("failed to journal event",
					"kind", e.Kind,
					"hostname", e.Hostname,
					"error", err)
			}
		}
	}
}
