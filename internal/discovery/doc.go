// Package discovery announces the coordinator on the LAN and finds it
// from the agent side.
//
// The coordinator's Beacon sends one UDP datagram per interval to the
// broadcast address on the discovery port:
//
//	ADMIN_SERVER_DISCOVERY:192.168.1.20:12345
//
// Nothing acknowledges it. The agent's Listener parses datagrams on the
// same port and forwards the newest address to the connection manager,
// but only while it is active; the manager switches it off while it holds
// a connection.
package discovery
