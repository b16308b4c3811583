package advertise

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"

	"github.com/multiformats/go-multiaddr"
)

// EncodeHostPort turns a host-port into the discover wire shape spec §4.7
// describes as Thrift's {ip: {ipv4: uint32 big-endian}, port: uint16}. No
// Thrift library is available, so the ipv4/port pair is encoded directly
// with encoding/binary instead of through a generated codec. hostPort is
// either a plain "ip:port" or a libp2p multiaddr with a trailing
// /p2p/<peerID> component (the form peers are actually stored under); the
// wire shape has no room for a peer ID, so that component is dropped.
func EncodeHostPort(hostPort string) (DiscoveredPeer, error) {
	host, portStr, err := hostAndPort(hostPort)
	if err != nil {
		return DiscoveredPeer{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return DiscoveredPeer{}, fmt.Errorf("advertise: %q is not an IPv4 address", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return DiscoveredPeer{}, fmt.Errorf("advertise: invalid port %q: %w", portStr, err)
	}
	return DiscoveredPeer{
		IPv4: binary.BigEndian.Uint32(ip.To4()),
		Port: uint16(port),
	}, nil
}

// DecodeHostPort is EncodeHostPort's inverse, used by tests and by any
// future peer consuming a discover response directly rather than through a
// generated client.
func DecodeHostPort(p DiscoveredPeer) string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, p.IPv4)
	ip := net.IPv4(b[0], b[1], b[2], b[3])
	return net.JoinHostPort(ip.String(), strconv.Itoa(int(p.Port)))
}

// hostAndPort splits hostPort into its ip and port strings, accepting both
// a plain "ip:port" and a libp2p multiaddr.
func hostAndPort(hostPort string) (string, string, error) {
	if ma, maErr := multiaddr.NewMultiaddr(hostPort); maErr == nil {
		ip, err := ma.ValueForProtocol(multiaddr.P_IP4)
		if err != nil {
			return "", "", fmt.Errorf("advertise: %q has no ip4 component: %w", hostPort, err)
		}
		port, err := ma.ValueForProtocol(multiaddr.P_TCP)
		if err != nil {
			return "", "", fmt.Errorf("advertise: %q has no tcp component: %w", hostPort, err)
		}
		return ip, port, nil
	}
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		return "", "", fmt.Errorf("advertise: invalid host-port %q: %w", hostPort, err)
	}
	return host, port, nil
}

