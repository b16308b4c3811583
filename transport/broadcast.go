package transport

import (
	"context"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
)

// heartbeat is the payload published on the peer-presence topic. The
// sender's identity is already carried by the pubsub envelope
// (msg.ReceivedFrom); the payload only needs to be non-empty so peers with
// nothing to say still produce a detectable message.
var heartbeat = []byte("\x01")

// broadcastPeerPresence periodically announces liveness on the discovery
// topic so other routers' handlePubsubMessages loop picks up a dialable
// peer ID. It carries no address or key material of its own — unlike the
// original protobuf-framed peer announcement, the payload here is a single
// sentinel byte, because the only signal handlePubsubMessages acts on is
// who sent the message, not what it says.
func broadcastPeerPresence(ctx context.Context, h host.Host, topic *pubsub.Topic, subscription *pubsub.Subscription, cfg *hostCfg) {
	defer subscription.Cancel()

	interval := cfg.broadcastInterval
	if interval == 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	publish := func() {
		if len(topic.ListPeers()) == 0 {
			return
		}
		if err := topic.Publish(ctx, heartbeat); err != nil {
			cfg.logger.Error("Failed to publish peer-presence heartbeat", err)
		}
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			cfg.logger.Info("Stopping pubsub discovery broadcasting due to context cancellation")
			return
		case <-ticker.C:
			publish()
		}
	}
}
