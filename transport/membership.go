package transport

import (
	"sort"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spaolacci/murmur3"

	"github.com/omgolab/bahnrouter/ring"
)

// DHTMembership implements ring.Membership over a libp2p host's peerstore:
// the set of known peers (populated by the DHT/mDNS/pubsub discovery wired
// into CreateLibp2pHost) stands in for the gossip ring's membership table.
// Lookup ranks candidates by murmur3 distance from the service name's hash,
// the same consistent-hash ordering spec §4.1 describes, so a fixed
// (service, peer set) pair always resolves to the same K hosts.
type DHTMembership struct {
	h host.Host
}

var _ ring.Membership = (*DHTMembership)(nil)

// NewDHTMembership binds a DHTMembership to a running libp2p host.
func NewDHTMembership(h host.Host) *DHTMembership {
	return &DHTMembership{h: h}
}

func (m *DHTMembership) hostPortFor(id peer.ID) (string, bool) {
	info := m.h.Peerstore().PeerInfo(id)
	if len(info.Addrs) == 0 {
		return "", false
	}
	addrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil || len(addrs) == 0 {
		return "", false
	}
	return addrs[0].String(), true
}

// Self returns this host's own host-port, as a libp2p multiaddr string.
func (m *DHTMembership) Self() string {
	hp, ok := m.hostPortFor(m.h.ID())
	if !ok {
		return m.h.ID().String()
	}
	return hp
}

type rankedPeer struct {
	hostPort string
	distance uint32
}

// Lookup returns the k host-ports closest to murmur3(service) in hash
// space, including this host when it ranks among the closest.
func (m *DHTMembership) Lookup(service string, k int) []string {
	target := murmur3.Sum32([]byte(service))

	candidates := append([]peer.ID{m.h.ID()}, m.h.Peerstore().Peers()...)
	seen := make(map[peer.ID]struct{}, len(candidates))

	ranked := make([]rankedPeer, 0, len(candidates))
	for _, id := range candidates {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		hp, ok := m.hostPortFor(id)
		if !ok {
			continue
		}
		h := murmur3.Sum32([]byte(hp))
		ranked = append(ranked, rankedPeer{hostPort: hp, distance: h ^ target})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].distance != ranked[j].distance {
			return ranked[i].distance < ranked[j].distance
		}
		return ranked[i].hostPort < ranked[j].hostPort
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = ranked[i].hostPort
	}
	return out
}
