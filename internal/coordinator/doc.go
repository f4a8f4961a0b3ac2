// Package coordinator assembles the admin side of checkaso.
//
// # Components
//
//   - agent.Server and agent.Registry: the session port and live sessions
//   - discovery.Beacon: UDP announcements of the advertised address
//   - events.Broadcaster: fan-out of session events
//   - store.SQLiteStore: optional event journal with retention pruning
//   - api.Server: optional HTTP control API
//
// # Lifecycle
//
//	c, err := coordinator.New(cfg, logger)
//	err = c.Run(ctx) // blocks; shuts down on cancel or component failure
//
// Shutdown order is HTTP, sessions, event hub, journal. Every session
// removed during shutdown is journaled before the database closes.
package coordinator
