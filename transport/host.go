// Package transport is the router's external collaborator boundary: the
// framed RPC transport and its connection objects, per spec §1. It owns
// libp2p host construction, DHT/mDNS/pubsub peer discovery (connectivity
// only — distinct from the service-level advertise/unadvertise protocol in
// package advertise), and the net.Listener/net.Conn bridge the plain
// net/http advertise/discover handlers ride on top of as h2c.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	glog "github.com/omgolab/go-commons/pkg/log"

	"github.com/omgolab/bahnrouter/config"
)

// CreateLibp2pHost builds a libp2p Host wired for DHT + mDNS + pubsub
// discovery, with connection-manager watermarks to bound memory growth
// from unbounded connection accumulation.
func CreateLibp2pHost(ctx context.Context, opts ...HostOption) (host.Host, error) {
	cfg := &hostCfg{}
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		l, err := glog.New()
		if err != nil {
			return nil, err
		}
		cfg.logger = l
	}
	log := cfg.logger

	var kadDHT *dht.IpfsDHT
	var dhtErr error
	var dhtOnce sync.Once

	options := []libp2p.Option{
		libp2p.ListenAddrStrings("/ip4/0.0.0.0/tcp/0/ws", "/ip4/0.0.0.0/tcp/0"),
		libp2p.ShareTCPListener(),

		libp2p.ConnectionManager(func() *connmgr.BasicConnMgr {
			cm, _ := connmgr.NewConnManager(100, 400, connmgr.WithGracePeriod(time.Minute))
			return cm
		}()),

		libp2p.DefaultMuxers,
		libp2p.DefaultTransports,
		libp2p.DefaultSecurity,

		libp2p.EnableNATService(),
		libp2p.NATPortMap(),
		libp2p.EnableHolePunching(),
		libp2p.EnableRelay(),

		libp2p.AutoNATServiceRateLimit(10, 3, time.Minute),

		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			dhtOnce.Do(func() {
				kadDHT, dhtErr = setupDHT(ctx, h, cfg, cfg.dhtOptions...)
			})
			return kadDHT, dhtErr
		}),
	}
	options = append(options, cfg.libp2pOptions...)

	h, err := libp2p.New(options...)
	if err != nil {
		return nil, err
	}

	log.Info("libp2p host created", glog.LogFields{
		"peerID":    h.ID().String(),
		"addrs":     h.Addrs(),
		"protocols": h.Mux().Protocols(),
	})

	if err := setupMDNS(h, cfg); err != nil {
		log.Error("Failed to set up mDNS discovery", err)
	}

	if !cfg.disablePubsubDiscovery {
		if err := setupPubsubDiscovery(ctx, h, cfg); err != nil {
			log.Error("Failed to set up pubsub discovery", err)
		}
	}

	return h, nil
}

func setupPubsubDiscovery(ctx context.Context, h host.Host, cfg *hostCfg) error {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return err
	}

	topic, err := ps.Join(config.DiscoveryPubsubTopic)
	if err != nil {
		return err
	}

	subscription, err := topic.Subscribe()
	if err != nil {
		return err
	}

	cfg.logger.Info("Joined pubsub discovery topic", glog.LogFields{"topic": config.DiscoveryPubsubTopic})

	go handlePubsubMessages(ctx, subscription, h, cfg)
	go broadcastPeerPresence(ctx, h, topic, subscription, cfg)

	return nil
}

func handlePubsubMessages(ctx context.Context, subscription *pubsub.Subscription, h host.Host, cfg *hostCfg) {
	for {
		msg, err := subscription.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				cfg.logger.Info("Stopping pubsub message handling due to context cancellation")
				return
			}
			cfg.logger.Error("Error reading pubsub message", err)
			continue
		}

		if msg.ReceivedFrom == h.ID() {
			continue
		}

		peerInfo := peer.AddrInfo{ID: msg.ReceivedFrom}
		connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)

		go func() {
			defer cancel()
			if err := h.Connect(connCtx, peerInfo); err != nil {
				cfg.logger.Debug("Failed to connect to peer from pubsub", glog.LogFields{
					"peer":  peerInfo.ID.String(),
					"error": err.Error(),
				})
			} else {
				cfg.logger.Debug("Connected to peer from pubsub", glog.LogFields{"peer": peerInfo.ID.String()})
			}
		}()
	}
}
