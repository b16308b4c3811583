package transport

import (
	"context"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	glog "github.com/omgolab/go-commons/pkg/log"

	"github.com/omgolab/bahnrouter/config"
)

// setupDHT initializes the DHT and starts peer discovery.
func setupDHT(ctx context.Context, h host.Host, cfg *hostCfg, userDhtOptions ...dht.Option) (*dht.IpfsDHT, error) {
	mode := dht.ModeAuto
	if cfg.isClientMode {
		mode = dht.ModeClient
	}
	dhtOptions := []dht.Option{dht.Mode(mode)}

	peers, _ := peer.AddrInfosFromP2pAddrs(dht.DefaultBootstrapPeers...)
	dhtOptions = append(dhtOptions, dht.BootstrapPeers(peers...))

	if len(userDhtOptions) > 0 {
		dhtOptions = append(dhtOptions, userDhtOptions...)
	}

	kademliaDHT, err := dht.New(ctx, h, dhtOptions...)
	if err != nil {
		return nil, err
	}

	cfg.logger.Debug("Bootstrapping the DHT")
	if err := kademliaDHT.Bootstrap(ctx); err != nil {
		return nil, err
	}

	go func() {
		time.Sleep(2 * time.Second)

		routingDiscovery := drouting.NewRoutingDiscovery(kademliaDHT)
		cfg.logger.Info("Advertising self on DHT")
		dutil.Advertise(ctx, routingDiscovery, config.DiscoveryTag)

		cfg.logger.Info("Starting DHT peer discovery loop")
		findPeersLoop(ctx, routingDiscovery, h, cfg)
		cfg.logger.Info("DHT peer discovery loop stopped")
	}()
	return kademliaDHT, nil
}

func findPeersLoop(ctx context.Context, routingDiscovery *drouting.RoutingDiscovery, h host.Host, cfg *hostCfg) {
	ticker := time.NewTicker(config.DHTPeerDiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cfg.logger.Info("Stopping DHT peer discovery loop due to context cancellation")
			return
		case <-ticker.C:
			peerChan, err := routingDiscovery.FindPeers(ctx, config.DiscoveryTag)
			if err != nil {
				cfg.logger.Error("DHT FindPeers error", err)
				continue
			}
			go connectToFoundPeers(ctx, h, cfg, peerChan)
		}
	}
}

func connectToFoundPeers(ctx context.Context, h host.Host, cfg *hostCfg, peerChan <-chan peer.AddrInfo) {
	for pi := range peerChan {
		if pi.ID == h.ID() {
			continue
		}

		connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)

		go func(peerInfo peer.AddrInfo) {
			defer cancel()

			if err := h.Connect(connCtx, peerInfo); err != nil {
				cfg.logger.Debug("Failed to connect to peer found via DHT", glog.LogFields{
					"peer":  peerInfo.ID.String(),
					"error": err.Error(),
				})
			} else {
				cfg.logger.Debug("Connected to peer found via DHT", glog.LogFields{
					"peer": peerInfo.ID.String(),
				})
			}
		}(pi)
	}
}
