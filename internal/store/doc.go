// Package store keeps a history of session events in SQLite.
//
// # Overview
//
// The journal records every session_established, session_removed,
// dnd_status_changed and message_displayed event the coordinator
// publishes. It is history only: the coordinator never reads it back to
// rebuild sessions, so a lost or deleted database changes nothing about
// who is connected.
//
// # SQLiteStore
//
//	s, err := store.NewSQLiteStore("/var/lib/checkaso/journal.db")
//	go s.Consume(ctx, eventsCh)
//	recent, err := s.ListEvents(ctx, store.EventFilter{Hostname: "alice"})
//
// The database uses WAL mode via modernc.org/sqlite, a pure Go driver, so
// the binaries build without cgo.
//
// # Retention
//
// Prune deletes events older than a cutoff. The coordinator calls it at
// startup when database.retention is set.
package store
