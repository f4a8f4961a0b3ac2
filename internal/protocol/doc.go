// Package protocol defines the wire format shared by the checkaso
// coordinator and its agents.
//
// # Transport
//
// Each agent holds one persistent TCP stream to the coordinator. Traffic is
// UTF-8 text, one command per line, terminated by '\n'. There is no length
// prefix: framing relies solely on the next newline, so payloads can never
// contain line breaks.
//
// # Handshake
//
//	agent       -> coordinator: <hostname>\n
//	coordinator -> agent:       CONNECTION_ACCEPTED\n
//
// # Commands
//
//	ping                    agent -> coordinator   liveness only
//	check_dnd_status        coordinator -> agent   request the DND value
//	dnd_status:<0|1>        agent -> coordinator   reply or unsolicited push
//	display_message:<text>  coordinator -> agent   show a notification
//	message_displayed       agent -> coordinator   delivery acknowledgement
//
// Lines are parsed once at the boundary into a Command, a tagged variant
// whose Kind drives dispatch. Unknown verbs parse to KindUnknown and are
// dropped by both sides.
//
// # Discovery
//
// The coordinator announces itself with a UDP broadcast datagram:
//
//	ADMIN_SERVER_DISCOVERY:<coordinator-ip>:<coordinator-port>
//
// # Errors
//
// Classify sorts I/O and protocol errors into the three classes the rest
// of the system reacts to: transient (retry in place), connection lost
// (tear down) and protocol violation (drop the message or the connection).
package protocol
