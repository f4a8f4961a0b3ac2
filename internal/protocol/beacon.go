// ABOUTME: Discovery beacon datagram format and the coordinator address it carries.
// ABOUTME: Encodes and parses ADMIN_SERVER_DISCOVERY:<ip>:<port>.

package protocol

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Well-known ports and literals of the protocol.
const (
	DefaultSessionPort   = 12345
	DefaultDiscoveryPort = 12346

	DiscoveryPrefix = "ADMIN_SERVER_DISCOVERY"
	HandshakeAck    = "CONNECTION_ACCEPTED"

	MaxHostnameLength = 255
)

// CoordinatorAddress is where an agent can reach the coordinator's session
// port. It is learned from beacons and never persisted.
type CoordinatorAddress struct {
	IP   string
	Port int
}

// String returns the address in host:port form, suitable for dialing.
func (a CoordinatorAddress) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// IsZero reports whether no address is known.
func (a CoordinatorAddress) IsZero() bool {
	return a.IP == "" && a.Port == 0
}

// EncodeBeacon renders the discovery datagram for addr.
func EncodeBeacon(addr CoordinatorAddress) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d", DiscoveryPrefix, addr.IP, addr.Port))
}

// ParseBeacon extracts the coordinator address from a discovery datagram.
func ParseBeacon(data []byte) (CoordinatorAddress, error) {
	msg := strings.TrimSpace(string(data))
	rest, ok := strings.CutPrefix(msg, DiscoveryPrefix+":")
	if !ok {
		return CoordinatorAddress{}, fmt.Errorf("%w: missing prefix", ErrMalformedBeacon)
	}

	idx := strings.LastIndexByte(rest, ':')
	if idx <= 0 || idx == len(rest)-1 {
		return CoordinatorAddress{}, fmt.Errorf("%w: %q", ErrMalformedBeacon, msg)
	}
	ip, portStr := rest[:idx], rest[idx+1:]

	if net.ParseIP(ip) == nil {
		return CoordinatorAddress{}, fmt.Errorf("%w: invalid ip %q", ErrMalformedBeacon, ip)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return CoordinatorAddress{}, fmt.Errorf("%w: invalid port %q", ErrMalformedBeacon, portStr)
	}

	return CoordinatorAddress{IP: ip, Port: port}, nil
}

// ParseAddress parses a host:port string into a CoordinatorAddress.
// Used for statically configured coordinators.
func ParseAddress(hostport string) (CoordinatorAddress, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return CoordinatorAddress{}, fmt.Errorf("parsing coordinator address %q: %w", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return CoordinatorAddress{}, fmt.Errorf("parsing coordinator address %q: invalid port", hostport)
	}
	if host == "" {
		return CoordinatorAddress{}, fmt.Errorf("parsing coordinator address %q: empty host", hostport)
	}
	return CoordinatorAddress{IP: host, Port: port}, nil
}

// ValidateHostname checks a handshake identity after trimming.
func ValidateHostname(hostname string) error {
	if hostname == "" {
		return ErrEmptyHostname
	}
	if len(hostname) > MaxHostnameLength {
		return ErrHostnameTooLong
	}
	return nil
}
