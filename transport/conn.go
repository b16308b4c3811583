package transport

import (
	"net"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	mn "github.com/multiformats/go-multiaddr/net"
)

var _ net.Conn = (*Conn)(nil)

func netAddrOrFallback(ma multiaddr.Multiaddr) net.Addr {
	addr, err := mn.ToNetAddr(ma)
	if err != nil {
		return defaultLocalFallbackAddr()
	}
	return addr
}

// p2pAddr is a net.Addr whose String() is a full libp2p multiaddr carrying
// a trailing /p2p/<peerID> component, the hostPort form the dispatch core
// stores for every peer and PeerConnector.addrInfoFromHostPort parses back
// into a peer.AddrInfo. A bare net.Addr from mn.ToNetAddr loses the peer ID
// entirely, so it can't round-trip through that parse.
type p2pAddr string

func (a p2pAddr) Network() string { return "p2p" }
func (a p2pAddr) String() string  { return string(a) }

// p2pNetAddr builds the hostPort net.Addr for id reachable at ma, falling
// back to a bare host:port only when the peer ID can't be encapsulated.
func p2pNetAddr(ma multiaddr.Multiaddr, id peer.ID) net.Addr {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: id, Addrs: []multiaddr.Multiaddr{ma}})
	if err != nil || len(addrs) == 0 {
		return netAddrOrFallback(ma)
	}
	return p2pAddr(addrs[0].String())
}

// Conn adapts a libp2p network.Stream to net.Conn, the shape net/http's
// server and PeerConnector's client dial through.
type Conn struct {
	network.Stream
}

// LocalAddr reports this peer's own dialable hostPort.
func (c *Conn) LocalAddr() net.Addr {
	conn := c.Stream.Conn()
	return p2pNetAddr(conn.LocalMultiaddr(), conn.LocalPeer())
}

// RemoteAddr reports the remote peer's dialable hostPort, the string
// net/http stamps onto http.Request.RemoteAddr and advertise.Handler
// stores as the caller's service-peer hostPort.
func (c *Conn) RemoteAddr() net.Addr {
	conn := c.Stream.Conn()
	return p2pNetAddr(conn.RemoteMultiaddr(), conn.RemotePeer())
}
