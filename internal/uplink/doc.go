// Package uplink keeps an agent connected to its coordinator.
//
// # State Machine
//
// Machine is a pure value: Apply(Input) returns the next Machine and does
// nothing else.
//
//	SEARCHING    --beacon-->          CONNECTING
//	CONNECTING   --dialed-->          HANDSHAKING
//	CONNECTING   --dial_failed-->     RECONNECTING | GIVE_UP
//	HANDSHAKING  --handshake_ok-->    CONNECTED (failures reset)
//	HANDSHAKING  --handshake_failed-> RECONNECTING | GIVE_UP
//	CONNECTED    --connection_lost--> RECONNECTING
//	RECONNECTING --retry_elapsed-->   CONNECTING
//	RECONNECTING --beacon(new addr)-> CONNECTING (failures reset)
//	GIVE_UP      --reset-->           SEARCHING (address forgotten)
//
// A failure that brings the count to MaxFailures (3) lands in GIVE_UP
// instead of RECONNECTING.
//
// # Manager
//
// Manager runs the machine against real I/O. While CONNECTED it runs four
// tasks in one errgroup:
//
//   - heartbeat: ping every HeartbeatInterval (15s)
//   - reader: answers check_dnd_status and display_message; a message the
//     Notifier refuses is not acknowledged
//   - DND poll: pushes dnd_status whenever the probe's value changes (2s)
//   - watchdog: ends the epoch after LivenessTimeout (60s) of silence
//
// The first task to fail cancels the rest and closes the socket once;
// the Manager then moves to RECONNECTING.
//
// Beacon delivery is gated off while connected. A statically configured
// coordinator is treated as a permanent beacon: it seeds the machine at
// start and again after every GIVE_UP.
package uplink
