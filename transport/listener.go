package transport

import (
	"context"
	"io"
	"net"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	mn "github.com/multiformats/go-multiaddr/net"
)

var _ net.Listener = (*streamBridgeListener)(nil)

type streamBridgeListener struct {
	h        host.Host
	streamCh chan network.Stream
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewStreamBridgeListener bridges inbound libp2p streams on pid into a
// standard net.Listener, so an *http.Server can Serve() over libp2p without
// knowing it isn't TCP.
func NewStreamBridgeListener(h host.Host, pid protocol.ID) net.Listener {
	l := &streamBridgeListener{h: h, streamCh: make(chan network.Stream, 1)}
	l.ctx, l.cancel = context.WithCancel(context.Background())

	h.SetStreamHandler(pid, func(s network.Stream) {
		l.streamCh <- s
	})

	return l
}

func (l *streamBridgeListener) Accept() (net.Conn, error) {
	select {
	case <-l.ctx.Done():
		return nil, io.EOF
	case s := <-l.streamCh:
		return &Conn{Stream: s}, nil
	}
}

func (l *streamBridgeListener) Addr() net.Addr {
	for _, a := range l.h.Network().ListenAddresses() {
		if na, err := mn.ToNetAddr(a); err == nil {
			return na
		}
	}
	return defaultLocalFallbackAddr()
}

func (l *streamBridgeListener) Close() error {
	l.cancel()
	return nil
}
