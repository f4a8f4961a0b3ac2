// ABOUTME: Local address helpers: the outbound IPv4 to advertise and its broadcast address.
// ABOUTME: Falls back to hostname lookup and loopback when routing gives nothing.

package discovery

import (
	"fmt"
	"net"
	"os"
)

// LimitedBroadcast is the all-ones broadcast address.
const LimitedBroadcast = "255.255.255.255"

// BroadcastAuto asks for the directed broadcast of the advertised interface.
const BroadcastAuto = "auto"

// OutboundIP returns the IPv4 address the OS would use to reach the
// internet. No packet is sent. It falls back to the first IPv4 address of
// the hostname, then to 127.0.0.1.
func OutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsUnspecified() {
			return addr.IP.String()
		}
	}

	if host, err := os.Hostname(); err == nil {
		if ips, err := net.LookupIP(host); err == nil {
			for _, ip := range ips {
				if v4 := ip.To4(); v4 != nil {
					return v4.String()
				}
			}
		}
	}
	return "127.0.0.1"
}

// DirectedBroadcast returns the broadcast address of the interface that
// owns ip.
func DirectedBroadcast(ip string) (string, error) {
	target := net.ParseIP(ip).To4()
	if target == nil {
		return "", fmt.Errorf("not an IPv4 address: %q", ip)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || !ipNet.IP.Equal(target) {
				continue
			}
			return broadcastOf(ipNet), nil
		}
	}
	return "", fmt.Errorf("no interface has address %s", ip)
}

func broadcastOf(n *net.IPNet) string {
	ip := n.IP.To4()
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	out := make(net.IP, net.IPv4len)
	for i := range out {
		out[i] = ip[i] | ^mask[i]
	}
	return out.String()
}

// ResolveBroadcast turns a configured broadcast setting into an address.
// An empty setting means the limited broadcast; BroadcastAuto derives it
// from advertiseIP and falls back to the limited broadcast.
func ResolveBroadcast(setting, advertiseIP string) string {
	switch setting {
	case "":
		return LimitedBroadcast
	case BroadcastAuto:
		if addr, err := DirectedBroadcast(advertiseIP); err == nil {
			return addr
		}
		return LimitedBroadcast
	default:
		return setting
	}
}
