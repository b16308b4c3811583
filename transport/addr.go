package transport

import "net"

// defaultLocalFallbackAddr is returned when a libp2p multiaddr can't be
// converted to a net.Addr.
func defaultLocalFallbackAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}
