// ABOUTME: SQLite implementation of the session event journal using modernc.org/sqlite.
// ABOUTME: Creates the schema on open and runs in WAL mode.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Journal on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	closed atomic.Bool
	logger *slog.Logger
}

// NewSQLiteStore opens or creates the journal at path. Parent directories
// are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer avoids SQLITE_BUSY between the consumer and API reads.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite journal initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id   TEXT NOT NULL UNIQUE,
			kind       TEXT NOT NULL,
			hostname   TEXT NOT NULL,
			ip         TEXT,
			session_id TEXT,
			value      TEXT,
			ts         TEXT NOT NULL,

			CHECK (kind IN (
				'session_established',
				'session_removed',
				'dnd_status_changed',
				'message_displayed'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_session_events_ts ON session_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_session_events_host ON session_events(hostname, ts DESC);
		CREATE INDEX IF NOT EXISTS idx_session_events_kind ON session_events(kind);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database. Later calls return nil.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
