package peerstate

import (
	"sync"
	"time"
)

// PruneEntry records why and when a peer was scheduled to have its outbound
// connection closed (§3: peersToPrune closes outbound only, without
// deleting the peer).
type PruneEntry struct {
	LastRefresh time.Time
	Reason      string
}

// DeadPeer identifies a (hostPort, service) pair the reaper found dead:
// present in peersToReap but never refreshed into knownPeers during the
// intervening period.
type DeadPeer struct {
	HostPort string
	Service  string
}

// Index is the peer-index component from §2 and §3. It owns the peer
// registry plus the knownPeers/peersToReap/peersToPrune bookkeeping and the
// partial-affinity mirror indices. All access is serialized by a single
// mutex, matching the coarse-lock scheduling model in §5 (dispatcher state
// is touched by exactly one logical worker at a time).
type Index struct {
	mu sync.Mutex

	peers map[string]*Peer

	knownPeers   map[string]map[string]time.Time
	peersToReap  map[string]map[string]time.Time
	peersToPrune map[string]PruneEntry

	// connectedServicePeers / connectedPeerServices mirror the partial
	// affinity subset actually held open. Invariant: hp is in
	// connectedServicePeers[s] iff s is in connectedPeerServices[hp].
	connectedServicePeers map[string]map[string]struct{}
	connectedPeerServices map[string]map[string]struct{}
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		peers:                 make(map[string]*Peer),
		knownPeers:            make(map[string]map[string]time.Time),
		peersToReap:           make(map[string]map[string]time.Time),
		peersToPrune:          make(map[string]PruneEntry),
		connectedServicePeers: make(map[string]map[string]struct{}),
		connectedPeerServices: make(map[string]map[string]struct{}),
	}
}

// GetOrCreatePeer returns the Peer for hostPort, creating it if unseen.
func (idx *Index) GetOrCreatePeer(hostPort string) *Peer {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.getOrCreatePeerLocked(hostPort)
}

func (idx *Index) getOrCreatePeerLocked(hostPort string) *Peer {
	p, ok := idx.peers[hostPort]
	if !ok {
		p = newPeer(hostPort)
		idx.peers[hostPort] = p
	}
	return p
}

// Peer returns the Peer for hostPort if known.
func (idx *Index) Peer(hostPort string) (*Peer, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	p, ok := idx.peers[hostPort]
	return p, ok
}

// DeletePeer removes hostPort from the registry entirely. Callers are
// responsible for having already closed the transport-level connection.
func (idx *Index) DeletePeer(hostPort string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.peers, hostPort)
	delete(idx.knownPeers, hostPort)
	delete(idx.peersToReap, hostPort)
	delete(idx.peersToPrune, hostPort)
}

// MarkKnown stamps (hostPort, service) as refreshed at `now`: it joins
// knownPeers, cancels any pending reap for that service, and ensures the
// Peer exists with `service` in its set. refreshServicePeer (§4.2) calls it
// on every exit-mode advertise, in both the partial-affinity and legacy
// branches: advertise keeps a peer alive.
func (idx *Index) MarkKnown(hostPort, service string, now time.Time) *Peer {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.knownPeers[hostPort] == nil {
		idx.knownPeers[hostPort] = make(map[string]time.Time)
	}
	idx.knownPeers[hostPort][service] = now

	if byService, ok := idx.peersToReap[hostPort]; ok {
		delete(byService, service)
		if len(byService) == 0 {
			delete(idx.peersToReap, hostPort)
		}
	}

	p := idx.getOrCreatePeerLocked(hostPort)
	p.AddService(service)
	return p
}

// CancelPrune removes any pending prune entry for hostPort (§4.2: advertise
// cancels a pending prune).
func (idx *Index) CancelPrune(hostPort string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.peersToPrune, hostPort)
}

// SchedulePrune adds hostPort to peersToPrune unless it is already
// scheduled, per invariant 2 (hp scheduled for prune iff
// connectedPeerServices[hp] is empty and not already scheduled).
func (idx *Index) SchedulePrune(hostPort, reason string, now time.Time) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, already := idx.peersToPrune[hostPort]; already {
		return
	}
	idx.peersToPrune[hostPort] = PruneEntry{LastRefresh: now, Reason: reason}
}

// IsScheduledForPrune reports whether hostPort currently has a pending
// prune entry.
func (idx *Index) IsScheduledForPrune(hostPort string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.peersToPrune[hostPort]
	return ok
}

// RotatePrune atomically swaps out the peersToPrune collection and returns
// it, for the prune interval scanner to close outbound connections
// against. This is the "getCollection may atomically swap the collection
// out" behavior from §4.6.
func (idx *Index) RotatePrune() map[string]PruneEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := idx.peersToPrune
	idx.peersToPrune = make(map[string]PruneEntry)
	return out
}

// RotateReap performs one reap tick (§3): any (hostPort, service) present
// in the previous peersToReap generation but absent from knownPeers is
// dead. It then rotates peersToReap := knownPeers and resets knownPeers, so
// a pair not refreshed between two RotateReap calls is reported dead by the
// second; after that it is in neither generation, and a further RotateReap
// with no intervening advertise reports nothing (invariant 4).
func (idx *Index) RotateReap() []DeadPeer {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var dead []DeadPeer
	for hp, services := range idx.peersToReap {
		known := idx.knownPeers[hp]
		for sn := range services {
			if _, refreshed := known[sn]; !refreshed {
				dead = append(dead, DeadPeer{HostPort: hp, Service: sn})
			}
		}
	}

	idx.peersToReap = idx.knownPeers
	idx.knownPeers = make(map[string]map[string]time.Time)
	return dead
}

// AddConnectedPair records that service s now holds an open connection to
// hp, maintaining the mirror-index invariant.
func (idx *Index) AddConnectedPair(service, hostPort string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.connectedServicePeers[service] == nil {
		idx.connectedServicePeers[service] = make(map[string]struct{})
	}
	idx.connectedServicePeers[service][hostPort] = struct{}{}
	if idx.connectedPeerServices[hostPort] == nil {
		idx.connectedPeerServices[hostPort] = make(map[string]struct{})
	}
	idx.connectedPeerServices[hostPort][service] = struct{}{}
}

// RemoveConnectedPair drops the (service, hostPort) mirror entries and
// reports whether hostPort now has no connected services left (the signal
// to schedule it for prune).
func (idx *Index) RemoveConnectedPair(service, hostPort string) (nowEmpty bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if peers, ok := idx.connectedServicePeers[service]; ok {
		delete(peers, hostPort)
		if len(peers) == 0 {
			delete(idx.connectedServicePeers, service)
		}
	}

	services, ok := idx.connectedPeerServices[hostPort]
	if !ok {
		return true
	}
	delete(services, service)
	if len(services) == 0 {
		delete(idx.connectedPeerServices, hostPort)
		return true
	}
	return false
}

// ConnectedServicePeers returns the current affine peer set for service.
func (idx *Index) ConnectedServicePeers(service string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	peers := idx.connectedServicePeers[service]
	out := make([]string, 0, len(peers))
	for hp := range peers {
		out = append(out, hp)
	}
	return out
}

// ConnectedPeerServices returns the services currently holding a connection
// open to hostPort.
func (idx *Index) ConnectedPeerServices(hostPort string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	services := idx.connectedPeerServices[hostPort]
	out := make([]string, 0, len(services))
	for sn := range services {
		out = append(out, sn)
	}
	return out
}

// IsConnected reports whether (service, hostPort) is currently an affine,
// connected pair.
func (idx *Index) IsConnected(service, hostPort string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	peers, ok := idx.connectedServicePeers[service]
	if !ok {
		return false
	}
	_, ok = peers[hostPort]
	return ok
}

// KnownPeerCount reports the number of distinct host-ports currently
// tracked, for stats emission.
func (idx *Index) KnownPeerCount() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.peers)
}
