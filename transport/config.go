package transport

import (
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p"
	glog "github.com/omgolab/go-commons/pkg/log"
)

// hostCfg holds the HostOption-configured settings for CreateLibp2pHost,
// following the teacher's functional-options idiom for host construction.
type hostCfg struct {
	logger                 glog.Logger
	libp2pOptions          []libp2p.Option
	dhtOptions             []dht.Option
	isClientMode           bool
	disablePubsubDiscovery bool
	broadcastInterval      time.Duration
}

// HostOption configures CreateLibp2pHost.
type HostOption func(*hostCfg) error

// WithHostLogger sets the logger used by host-level background tasks.
func WithHostLogger(l glog.Logger) HostOption {
	return func(c *hostCfg) error {
		c.logger = l
		return nil
	}
}

// WithHostLibp2pOptions appends additional libp2p.Options to the defaults.
func WithHostLibp2pOptions(opts ...libp2p.Option) HostOption {
	return func(c *hostCfg) error {
		c.libp2pOptions = append(c.libp2pOptions, opts...)
		return nil
	}
}

// WithHostDHTOptions appends additional dht.Options to the defaults.
func WithHostDHTOptions(opts ...dht.Option) HostOption {
	return func(c *hostCfg) error {
		c.dhtOptions = append(c.dhtOptions, opts...)
		return nil
	}
}

// WithHostAsClientMode puts the DHT in client mode (no routing table
// advertised to others), for routers that should not themselves act as
// relay/exit candidates for the transport's own discovery layer.
func WithHostAsClientMode(isClient bool) HostOption {
	return func(c *hostCfg) error {
		c.isClientMode = isClient
		return nil
	}
}

// WithPubsubDiscovery disables the gossipsub-based peer presence broadcast
// when isDisable is true.
func WithPubsubDiscovery(isDisable bool) HostOption {
	return func(c *hostCfg) error {
		c.disablePubsubDiscovery = isDisable
		return nil
	}
}

// WithBroadcastInterval overrides the default peer-presence broadcast
// interval.
func WithBroadcastInterval(interval time.Duration) HostOption {
	return func(c *hostCfg) error {
		c.broadcastInterval = interval
		return nil
	}
}
