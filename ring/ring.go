// Package ring provides a read-only projection over the cluster membership
// ring supplied by the gossip layer (an external collaborator per the core's
// scope). It answers the two questions the dispatcher needs: which hosts
// are responsible for a service, and is this router one of them.
package ring

import (
	"sort"
	"sync"

	glog "github.com/omgolab/go-commons/pkg/log"

	"github.com/omgolab/bahnrouter/config"
)

// Membership is the external collaborator: a snapshot of the cluster's
// consistent-hash ring. The core never mutates it; View only reads through
// it. Lookup must be deterministic for a fixed (service, snapshot) pair and
// return up to k distinct host-ports.
type Membership interface {
	// Lookup returns the k hosts responsible for service, in ring order.
	Lookup(service string, k int) []string
	// Self returns this process's own host-port as it appears on the ring.
	Self() string
}

// Listener is notified when ring membership shifts. View never removes a
// registered listener; per §9, observers are registered once at startup.
type Listener func()

// View is the per-router, cached-nothing projection described in §4.1. It
// holds no peer data of its own; `exitsFor` re-derives results from the
// Membership collaborator on every call, using the configured K values.
type View struct {
	log     glog.Logger
	remote  *config.Remote
	member  Membership

	mu        sync.Mutex
	listeners []Listener
}

// New builds a View bound to a Membership collaborator and the shared
// Remote config holding per-service K values.
func New(log glog.Logger, member Membership, remote *config.Remote) *View {
	return &View{log: log, remote: remote, member: member}
}

// OnChanged registers a listener invoked whenever Changed is called by the
// owner driving membership updates (the gossip layer's own change
// notification, relayed here as a thin pass-through).
func (v *View) OnChanged(l Listener) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, l)
}

// Changed fires the `changed` event described in §4.1. The gossip layer
// calls this when its membership table shifts; the dispatcher subscribes
// via OnChanged to schedule updateServiceChannels on the next tick.
func (v *View) Changed() {
	v.mu.Lock()
	listeners := make([]Listener, len(v.listeners))
	copy(listeners, v.listeners)
	v.mu.Unlock()

	for _, l := range listeners {
		l()
	}
}

// ExitsFor returns the K hosts responsible for service, sorted so callers
// get a deterministic ordering (partial-affinity and forward-mode peer
// population both depend on a stable relays/workers ordering per §3, §4.4).
func (v *View) ExitsFor(service string) []string {
	k := v.remote.KValueFor(service)
	if k <= 0 {
		k = config.DefaultKValue
	}
	hosts := v.member.Lookup(service, k)
	sorted := append([]string(nil), hosts...)
	sort.Strings(sorted)
	return sorted
}

// IsExitFor reports whether this router is among the K exits for service.
func (v *View) IsExitFor(service string) bool {
	self := v.member.Self()
	for _, hp := range v.ExitsFor(service) {
		if hp == self {
			return true
		}
	}
	return false
}

// Self returns this router's own host-port as it appears on the ring, the
// form the partial-affinity window computation needs to locate itself
// among the sorted relay list.
func (v *View) Self() string {
	return v.member.Self()
}
