package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pmdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"

	"github.com/omgolab/bahnrouter/config"
)

var _ libp2pmdns.Notifee = (*discoveryNotifee)(nil)

// peerCache rate-limits repeated connection attempts to peers discovered
// via mDNS, so a flapping local peer doesn't generate a dial per
// announcement.
type peerCache struct {
	mu      sync.RWMutex
	entries map[peer.ID]*peerCacheEntry
	maxSize int
	ttl     time.Duration
}

type peerCacheEntry struct {
	addrInfo  peer.AddrInfo
	timestamp time.Time
	attempts  int
}

var globalPeerCache = &peerCache{
	entries: make(map[peer.ID]*peerCacheEntry),
	maxSize: 1000,
	ttl:     10 * time.Minute,
}

func (pc *peerCache) addToCache(pi peer.AddrInfo) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if len(pc.entries) >= pc.maxSize {
		pc.cleanExpiredLocked()
	}

	pc.entries[pi.ID] = &peerCacheEntry{addrInfo: pi, timestamp: time.Now()}
}

func (pc *peerCache) getFromCache(peerID peer.ID) (peer.AddrInfo, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	entry, exists := pc.entries[peerID]
	if !exists || time.Since(entry.timestamp) > pc.ttl {
		return peer.AddrInfo{}, false
	}
	return entry.addrInfo, true
}

// markAttempt rate-limits to at most 3 connection attempts per TTL window.
func (pc *peerCache) markAttempt(peerID peer.ID) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	entry, exists := pc.entries[peerID]
	if !exists {
		// First attempt: HandlePeerFound caches the peer right after this.
		return true
	}
	if time.Since(entry.timestamp) > pc.ttl {
		// New window: this call is its uncounted first attempt.
		entry.timestamp = time.Now()
		entry.attempts = 0
		return true
	}
	entry.attempts++
	return entry.attempts < 3
}

func (pc *peerCache) cleanExpiredLocked() {
	now := time.Now()
	for id, entry := range pc.entries {
		if now.Sub(entry.timestamp) > pc.ttl {
			delete(pc.entries, id)
		}
	}
}

type discoveryNotifee struct {
	h   host.Host
	cfg *hostCfg
}

// HandlePeerFound connects to peers discovered via mDNS. Errors are
// swallowed; connectivity is best-effort at this layer.
func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	if !globalPeerCache.markAttempt(pi.ID) {
		return
	}
	if n.h.Network() != nil && n.h.Network().Connectedness(pi.ID) == network.Connected {
		return
	}

	if cached, found := globalPeerCache.getFromCache(pi.ID); found {
		pi = cached
	} else {
		globalPeerCache.addToCache(pi)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

func setupMDNS(h host.Host, cfg *hostCfg) error {
	cfg.logger.Info("Setting up mDNS discovery")
	notifee := &discoveryNotifee{h: h, cfg: cfg}
	tag := config.DiscoveryTag
	cfg.logger.Debug(fmt.Sprintf("Using mDNS tag: %s", tag))
	disc := libp2pmdns.NewMdnsService(h, tag, notifee)
	return disc.Start()
}
