// Package events carries session lifecycle notifications from the
// coordinator to whoever is watching: the console, the journal, tests.
//
// # Events
//
// Every registry transition and every agent report produces an Event:
//
//   - session_established: a handshake completed and the session was admitted
//   - session_removed: a session was torn down or evicted by a newer one
//   - dnd_status_changed: the agent reported its DND flag (Value is "0" or "1")
//   - message_displayed: the agent acknowledged a display_message
//
// For a given hostname, session_removed for an evicted session is always
// published before session_established for its replacement.
//
// # Sink
//
// Producers depend on the Sink interface. Publish must never block: the
// registry calls it while holding its lock.
//
// # Broadcaster
//
// Broadcaster is the in-memory fan-out Sink. Subscribers pick a hostname
// (or "" for every host) and receive events on a buffered channel. A
// subscriber that falls behind loses events rather than stalling the
// coordinator:
//
//	ch, _ := b.Subscribe(ctx, "")
//	for ev := range ch {
//		...
//	}
//
// Subscriptions end when their context is cancelled, on Unsubscribe, or
// when the Broadcaster is closed; in each case the channel is closed.
package events
