// Package agent is the coordinator's side of agent connections.
//
// # Overview
//
// Agents dial the session port, introduce themselves with their hostname,
// and then exchange newline-delimited commands for as long as the TCP
// connection lives. The package admits them, keeps exactly one session per
// hostname, and tears sessions down when their sockets fail.
//
// # Server
//
// Server owns the listener and every goroutine tied to it:
//
//	srv := agent.NewServer(agent.DefaultServerConfig(), registry, logger)
//	go srv.Serve(ctx)
//	...
//	srv.Shutdown(shutdownCtx)
//
// Each accepted connection runs the handshake:
//
//  1. Read one line within HandshakeTimeout (10s)
//  2. Trim it; an empty or overlong hostname drops the connection
//  3. Reply CONNECTION_ACCEPTED
//  4. Admit the session into the Registry
//  5. Run the read loop; after InitialProbeDelay ask for DND status
//
// A connection that never completes its first line is closed without ever
// touching the Registry.
//
// # Read Loop
//
// Reads carry a ReadTimeout (30s) deadline. A timeout is not fatal: the
// server sends check_dnd_status and keeps reading. The same probe goes out
// when nothing has been sent to the agent for ReadTimeout, even if its
// pings keep arriving. EOF, socket errors and
// undecodable bytes end the session.
//
// Inbound commands:
//
//   - ping: refreshes activity only
//   - dnd_status:<0|1>: records the value and publishes dnd_status_changed
//   - message_displayed: publishes message_displayed
//   - anything else: logged and dropped
//
// # Registry
//
// Registry maps hostname to *Session under one mutex:
//
//   - Admit(s): evict and close any previous session for the host, insert s
//   - Remove(s): close s, unregister it only if it is still the mapped session
//   - Get, List, Hostnames, Len: lookups and snapshots
//   - Send, SendCommand: deliver a command by hostname
//
// Remove is safe to call from any number of goroutines; exactly one call
// publishes session_removed.
//
// # Sending
//
// Session.Send serializes writers, applies a 5s write deadline and retries
// transient failures up to three times, one second apart. A retry resumes
// at the first unwritten byte. Any non-transient failure closes the session.
package agent
