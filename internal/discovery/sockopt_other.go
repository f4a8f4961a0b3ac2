// ABOUTME: No-op socket options for platforms without unix or Windows sockets.
// ABOUTME: Discovery still works where the defaults already allow broadcast.

//go:build !unix && !windows

package discovery

import "syscall"

func controlBroadcast(network, address string, c syscall.RawConn) error {
	return nil
}
