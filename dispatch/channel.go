package dispatch

import (
	"sort"
	"sync"
)

// Mode is a service channel's role, re-derived from the ring on every
// membership change (§3).
type Mode int

const (
	// Forward means this router is not authoritative for the service; the
	// channel's peer set holds exit host-ports instead of workers.
	Forward Mode = iota
	// Exit means this router is authoritative; the channel's peer set
	// holds worker peers directly.
	Exit
)

func (m Mode) String() string {
	if m == Exit {
		return "exit"
	}
	return "forward"
}

// Channel is the per-router view of one service (§3's "service channel").
// In forward mode its peer set is the K exit host-ports; in exit mode it is
// every worker peer that has advertised the service, with partial affinity
// on or off (the affine subset actually connected is tracked by
// peerstate.Index, not here). preferOutbound mirrors §4.2's "enable
// preferConnectionDirection = out" for exit-mode channels.
type Channel struct {
	ServiceName string

	mu             sync.RWMutex
	mode           Mode
	peers          map[string]struct{}
	preferOutbound bool
	lastAdvertise  int64 // unix nanos of the last refreshServicePeer, for service-purge
}

// NewChannel creates a channel in the given mode. Exit-mode channels always
// prefer outbound connections per §4.2.
func NewChannel(serviceName string, mode Mode) *Channel {
	return &Channel{
		ServiceName:    serviceName,
		mode:           mode,
		peers:          make(map[string]struct{}),
		preferOutbound: mode == Exit,
	}
}

func (c *Channel) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode flips the channel's mode and, per §4.2's changeToExit/
// changeToForward, clears the peer set: the caller is responsible for
// repopulating it (forward mode pre-populates with exit host-ports; exit
// mode starts empty and is filled by refreshServicePeer).
func (c *Channel) SetMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.preferOutbound = mode == Exit
	c.peers = make(map[string]struct{})
}

// AddPeer adds hostPort to the channel's peer set.
func (c *Channel) AddPeer(hostPort string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[hostPort] = struct{}{}
}

// RemovePeer removes hostPort from the channel's peer set.
func (c *Channel) RemovePeer(hostPort string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peers, hostPort)
}

// HasPeer reports whether hostPort is currently in the channel's peer set.
func (c *Channel) HasPeer(hostPort string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.peers[hostPort]
	return ok
}

// Peers returns a sorted snapshot of the channel's peer set, the shape the
// partial-affinity and forward-mode reconciliation logic both expect.
func (c *Channel) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.peers))
	for hp := range c.peers {
		out = append(out, hp)
	}
	sort.Strings(out)
	return out
}

// ReplacePeers swaps the peer set wholesale, used when forward mode
// repopulates from a fresh exit list.
func (c *Channel) ReplacePeers(hostPorts []string) {
	next := make(map[string]struct{}, len(hostPorts))
	for _, hp := range hostPorts {
		next[hp] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = next
}

func (c *Channel) PreferOutbound() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.preferOutbound
}

func (c *Channel) touchAdvertise(nowUnixNano int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAdvertise = nowUnixNano
}

func (c *Channel) lastAdvertiseNano() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAdvertise
}
