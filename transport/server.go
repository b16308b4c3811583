package transport

import (
	"context"
	"net/http"

	"github.com/libp2p/go-libp2p/core/host"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	glog "github.com/omgolab/go-commons/pkg/log"

	"github.com/omgolab/bahnrouter/config"
)

// Host wraps a libp2p host plus the HTTP/2 server bridging the plain
// net/http advertise/discover handlers onto it, giving the serving
// goroutine a clean shutdown path. It generalizes the teacher's
// DRPCServer.Close() component-shutdown pattern to the router's own
// dispatch subsystem.
type Host struct {
	P2PHost host.Host
	server  *http.Server
	log     glog.Logger
}

// NewServer mounts muxHandler (advertise.Handler's plain net/http mux) on a
// libp2p-backed net.Listener and starts serving it as HTTP/2 cleartext
// (h2c), since libp2p streams don't negotiate TLS themselves.
func NewServer(ctx context.Context, h host.Host, log glog.Logger, muxHandler http.Handler) *Host {
	listener := NewStreamBridgeListener(h, config.AdvertiseProtocolID)

	h2s := &http2.Server{}
	server := &http.Server{
		Handler: h2c.NewHandler(muxHandler, h2s),
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("advertise server stopped serving", err)
		}
	}()

	return &Host{P2PHost: h, server: server, log: log}
}

// Close drains the HTTP server and closes the underlying libp2p host. The
// dispatcher is responsible for draining service-channel peers before this
// is called (graceful host draining, per SPEC_FULL's supplemented
// features).
func (s *Host) Close(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Warn("error shutting down advertise server", map[string]any{"error": err})
	}
	return s.P2PHost.Close()
}
