package transport

import (
	"context"
	"errors"
	"net"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// dial opens a libp2p stream to peerID on protocol pid and adapts it to
// net.Conn, the shape both PeerConnector's plain net/http client and
// NewServer's h2c listener ride on top of. It requires an existing
// connection rather than dialing one itself: PeerConnector.EnsureOutbound/
// RelayAd/DiscoverAffine call h.Connect first so the caller controls
// connection-establishment errors separately from stream errors.
func dial(ctx context.Context, h host.Host, pid protocol.ID, peerID peer.ID) (net.Conn, error) {
	if h.Network().Connectedness(peerID) != network.Connected {
		return nil, errors.New("transport: not connected to peer")
	}

	stream, err := h.NewStream(ctx, peerID, pid)
	if err != nil {
		return nil, err
	}
	return &Conn{Stream: stream}, nil
}
