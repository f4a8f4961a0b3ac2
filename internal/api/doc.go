// Package api serves the coordinator's HTTP control surface, used by the
// admin CLI and any console front end.
//
// # Endpoints
//
//	GET  /health                          liveness, never authenticated
//	GET  /api/agents                      connected sessions
//	POST /api/agents/{hostname}/message   {"text"} as display_message
//	POST /api/agents/{hostname}/check     check_dnd_status
//	POST /api/broadcast                   {"text","hostnames"} to many agents
//	GET  /api/history                     journal, filtered by hostname, kind, since, limit
//	GET  /api/events                      WebSocket stream of session events
//
// # Errors
//
// Failures return {"error": "..."}. An unknown hostname is 404, an
// unencodable message is 400, and a send that tore the session down is
// 502. History answers 503 when the journal is disabled.
//
// # Retries
//
// The message and broadcast routes honour an Idempotency-Key header when a
// Replay store is configured. The first response under a key is recorded
// per subject and path and replayed, with Idempotent-Replayed: true, for
// later requests. A key still in flight answers 409. 5xx answers are not
// recorded.
//
// # Authentication
//
// When a verifier is configured every /api route requires a bearer JWT
// (see package auth).
package api
