// Package peerstate owns the secondary indices named in spec's peer-index
// component: connected service→peers, peer→services, known peers,
// peers-to-reap, and peers-to-prune. Per §9's design note on duck-typed
// peer fields, the peer's service set is a first-class field rather than
// an attached property bag.
package peerstate

import "sync"

// Peer is a host-port plus the set of services routed through it, per §3.
// The peer index tracks liveness and membership only; the actual
// connection objects live in the transport collaborator and are addressed
// by HostPort, never stored here.
type Peer struct {
	HostPort string

	mu       sync.Mutex
	services map[string]struct{}
}

func newPeer(hostPort string) *Peer {
	return &Peer{HostPort: hostPort, services: make(map[string]struct{})}
}

// AddService adds sn to this peer's serviceProxyServices set.
func (p *Peer) AddService(sn string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.services[sn] = struct{}{}
}

// RemoveService removes sn and reports whether the peer now retains no
// services at all (§3: "a peer is eligible for closure when no service
// channel retains it").
func (p *Peer) RemoveService(sn string) (empty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.services, sn)
	return len(p.services) == 0
}

// HasService reports whether sn is in this peer's service set.
func (p *Peer) HasService(sn string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.services[sn]
	return ok
}

// ServiceCount returns the number of services currently retaining this
// peer.
func (p *Peer) ServiceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.services)
}

// Services returns a snapshot of the peer's current service set.
func (p *Peer) Services() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.services))
	for sn := range p.services {
		out = append(out, sn)
	}
	return out
}
