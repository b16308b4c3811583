package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	glog "github.com/omgolab/go-commons/pkg/log"

	"github.com/omgolab/bahnrouter/circuit"
	"github.com/omgolab/bahnrouter/config"
	"github.com/omgolab/bahnrouter/partial"
	"github.com/omgolab/bahnrouter/peerstate"
	"github.com/omgolab/bahnrouter/ratelimit"
	"github.com/omgolab/bahnrouter/ring"
	"github.com/omgolab/bahnrouter/stats"
)

// RingView is the subset of ring.View the dispatcher depends on, narrowed
// to ease testing with a fake.
type RingView interface {
	ExitsFor(service string) []string
	IsExitFor(service string) bool
	Self() string
}

// Dispatcher is the glue component from §4.2: it owns service-channel
// lifecycle, runs the admission pipeline ahead of every dispatch, and
// reconciles channels against ring membership changes. Cyclic references
// to the transport and ring collaborators are avoided by construction: the
// dispatcher receives only the narrow interfaces it actually calls (§9).
type Dispatcher struct {
	log glog.Logger

	ring     RingView
	remote   *config.Remote
	limiter  *ratelimit.Limiter
	circuits *circuit.Registry
	peers    *peerstate.Index
	blocker  *Blocker
	stats    stats.Sink
	conn     Connector

	minPeersPerWorker int
	minPeersPerRelay  int
	drainTimeout      time.Duration
	unhealthyAlias    bool

	mu       sync.RWMutex
	channels map[string]*Channel
}

// New builds a Dispatcher. The caller supplies every external collaborator
// up front (logger, timers implicit via context, statsd, ring view); none
// of them are constructed internally, matching §9's single-owning-context
// design note.
func New(log glog.Logger, rv RingView, remote *config.Remote, limiter *ratelimit.Limiter, circuits *circuit.Registry, peers *peerstate.Index, conn Connector, sink stats.Sink) *Dispatcher {
	return &Dispatcher{
		log:               log,
		ring:              rv,
		remote:            remote,
		limiter:           limiter,
		circuits:          circuits,
		peers:             peers,
		blocker:           NewBlocker(),
		stats:             sink,
		conn:              conn,
		minPeersPerWorker: config.DefaultMinPeersPerWorker,
		minPeersPerRelay:  config.DefaultMinPeersPerRelay,
		drainTimeout:      config.DefaultDrainTimeout,
		channels:          make(map[string]*Channel),
	}
}

// Blocker exposes the block table so the debug surface and config poller
// can mutate it.
func (d *Dispatcher) Blocker() *Blocker { return d.blocker }

// SetUnhealthyAlias toggles whether a tripped circuit reports Unhealthy
// instead of Declined on the wire (§6/§7).
func (d *Dispatcher) SetUnhealthyAlias(alias bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unhealthyAlias = alias
}

// Admit runs the full request-admission pipeline from §4.2 steps 1-5: it
// returns Dropped for a silent pop (block/kill-switch), a *WireError for a
// rejection that must be answered, or nil when the request should proceed
// to Dispatch.
func (d *Dispatcher) Admit(req Request, requireCaller bool, now time.Time) error {
	sn := req.EffectiveService()
	if sn == "" {
		return BadRequest("no service name given")
	}
	if requireCaller && req.CallerName == "" {
		return BadRequest("missing cn header")
	}

	if d.blocker.IsBlocked(req.CallerName, sn) {
		return Dropped
	}

	if !d.remote.RateLimitingEnabled() {
		return nil
	}
	if d.remote.IsExemptService(sn) {
		return nil
	}

	d.limiter.IncrementEdge(req.CallerName, sn, now)

	isExit := d.ring.IsExitFor(sn)
	if isExit {
		d.limiter.EnsureServiceCounters(sn)
	}

	if d.limiter.ShouldKillSwitchTotalRequest(now) {
		return Dropped
	}
	if isExit && d.limiter.ShouldKillSwitchService(sn, now) {
		return Dropped
	}
	d.limiter.IncrementKillSwitchCounters(sn, now)

	if d.limiter.ShouldRateLimitTotalRequest(now) {
		return Busy(fmt.Sprintf("hyperbahn node is rate-limited by the total rps of %v", d.limiter.TotalRps(now)))
	}
	if isExit && d.limiter.ShouldRateLimitService(sn, now) {
		return Busy(fmt.Sprintf("%s is rate-limited by the service rps of %v", sn, d.limiter.ServiceRps(sn, now)))
	}

	d.limiter.IncrementTotal(now)
	if isExit {
		d.limiter.IncrementService(sn, now)
	}

	return nil
}

// CircuitCheck runs getCircuitForRequest from §4.3: BadRequest on an empty
// service name, Declined (or Unhealthy, per the configured alias) when the
// circuit has tripped, else the circuit to record the outcome against.
func (d *Dispatcher) CircuitCheck(req Request) (*circuit.Circuit, error) {
	sn := req.EffectiveService()
	if sn == "" {
		return nil, BadRequest("no service name given")
	}
	if !d.remote.CircuitsEnabled() {
		return nil, nil
	}
	c := d.circuits.GetOrCreate(req.CallerName, sn, req.EndpointName)
	if !c.ShouldRequest() {
		d.mu.RLock()
		alias := d.unhealthyAlias
		d.mu.RUnlock()
		return nil, Declined("Service is not healthy", alias)
	}
	return c, nil
}

// getOrCreateChannel returns the Channel for service, deriving its initial
// mode from the ring and, in forward mode, pre-populating it with the
// sorted exit host-ports so the relay handler has targets immediately
// (§4.2 "Service channel creation").
func (d *Dispatcher) getOrCreateChannel(service string) *Channel {
	d.mu.RLock()
	ch, ok := d.channels[service]
	d.mu.RUnlock()
	if ok {
		return ch
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.channels[service]; ok {
		return ch
	}

	exits := d.ring.ExitsFor(service)
	mode := Forward
	if d.ring.IsExitFor(service) {
		mode = Exit
	}
	ch = NewChannel(service, mode)
	if mode == Forward {
		ch.ReplacePeers(exits)
	}
	d.channels[service] = ch
	return ch
}

// Channel returns the existing channel for service, if any, without
// creating one (the debug surface and reconciliation loop both want a
// read-only lookup).
func (d *Dispatcher) Channel(service string) (*Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[service]
	return ch, ok
}

// Dispatch locates or creates the service channel for the request's
// effective destination (§4.2 step 6) and returns a peer to forward to.
// Peer selection within the channel (load balancing) is the relay
// handler's concern; Dispatch only guarantees the channel exists and has
// at least one candidate, surfacing Declined when it doesn't.
func (d *Dispatcher) Dispatch(req Request) (*Channel, string, error) {
	sn := req.EffectiveService()
	ch := d.getOrCreateChannel(sn)
	peers := ch.Peers()
	if len(peers) == 0 {
		return ch, "", Declined("no peer available for request", false)
	}
	return ch, peers[0], nil
}

// RefreshServicePeer implements §4.2's refreshServicePeer: only meaningful
// in exit mode (forward-mode advertises are dropped). It stamps the
// advertisement timestamp, then runs either the partial-affinity branch
// (§4.4) or the legacy branch depending on remote config.
func (d *Dispatcher) RefreshServicePeer(ctx context.Context, service, hostPort string) error {
	ch := d.getOrCreateChannel(service)
	if ch.Mode() != Exit {
		return nil
	}

	now := time.Now()
	ch.touchAdvertise(now.UnixNano())
	ch.AddPeer(hostPort)
	d.peers.MarkKnown(hostPort, service, now)

	if d.remote.PartialAffinityEnabled() {
		d.ensurePartialConnections(ctx, service)
		return nil
	}

	d.peers.CancelPrune(hostPort)
	return d.conn.EnsureOutbound(ctx, hostPort)
}

// ensurePartialConnections implements §4.4's ensurePartialConnections:
// recompute the affine window for service and reconcile the connected
// mirror indices against it.
func (d *Dispatcher) ensurePartialConnections(ctx context.Context, service string) (noop, isAffine bool) {
	ch := d.getOrCreateChannel(service)
	workers := ch.Peers()
	relays := d.ring.ExitsFor(service)
	self := d.ring.Self()

	rng := partial.Compute(relays, workers, self, d.minPeersPerWorker, d.minPeersPerRelay)
	if !rng.Valid {
		d.log.Warn("partial affinity range invalid, relay not in exit list", glog.LogFields{"service": service})
		return true, false
	}

	affine := make(map[string]struct{}, len(rng.AffineWorkers))
	for _, hp := range rng.AffineWorkers {
		affine[hp] = struct{}{}
	}

	connected := d.peers.ConnectedServicePeers(service)
	connectedSet := make(map[string]struct{}, len(connected))
	for _, hp := range connected {
		connectedSet[hp] = struct{}{}
	}

	var toConnect, toDisconnect []string
	for hp := range affine {
		if _, ok := connectedSet[hp]; !ok {
			toConnect = append(toConnect, hp)
		}
	}
	for _, hp := range connected {
		if _, ok := affine[hp]; !ok {
			if !d.peers.IsScheduledForPrune(hp) {
				toDisconnect = append(toDisconnect, hp)
			}
		}
	}

	if len(toConnect) == 0 && len(toDisconnect) == 0 {
		return true, true
	}

	for _, hp := range toConnect {
		d.peers.AddConnectedPair(service, hp)
		d.peers.CancelPrune(hp)
		if err := d.conn.EnsureOutbound(ctx, hp); err != nil {
			d.log.Warn("failed to open affine outbound connection", glog.LogFields{"service": service, "peer": hp, "error": err.Error()})
		}
	}
	for _, hp := range toDisconnect {
		if nowEmpty := d.peers.RemoveConnectedPair(service, hp); nowEmpty {
			d.peers.SchedulePrune(hp, "fell out of partial affinity", time.Now())
		}
	}

	return false, true
}

// RemovePeerFromService implements §4.2's "Peer removal on unadvertise":
// drop hp from the service channel, recompute the affine window if partial
// affinity is on, and drain/delete the peer once no channel retains it.
func (d *Dispatcher) RemovePeerFromService(ctx context.Context, service, hostPort string) error {
	ch := d.getOrCreateChannel(service)
	ch.RemovePeer(hostPort)

	if d.remote.PartialAffinityEnabled() {
		d.ensurePartialConnections(ctx, service)
	}

	p, ok := d.peers.Peer(hostPort)
	if !ok {
		return nil
	}
	nowEmpty := p.RemoveService(service)
	if !nowEmpty {
		d.log.Printf("peer %s still referenced by other service channels, skipping close", hostPort)
		return nil
	}

	if err := d.conn.Drain(ctx, hostPort, GoalClosePeer, DirectionBoth, d.drainTimeout); err != nil {
		d.log.Warn("peer drain error, closing regardless", glog.LogFields{"peer": hostPort, "error": err.Error()})
	}
	if err := d.conn.ClosePeer(hostPort); err != nil {
		d.log.Warn("error closing peer from transport", glog.LogFields{"peer": hostPort, "error": err.Error()})
	}
	d.peers.DeletePeer(hostPort)
	return nil
}

// UpdateServiceChannels implements §4.2's updateServiceChannels: called
// when the ring view fires `changed` (cmd/routerd's OnChanged listener
// runs it in a new goroutine). For each known channel, recompute exits and flip mode
// if needed, else reconcile the peer set incrementally; finally drop
// circuit subtrees for services no longer owned.
func (d *Dispatcher) UpdateServiceChannels(ctx context.Context) {
	d.mu.RLock()
	services := make([]string, 0, len(d.channels))
	for sn := range d.channels {
		services = append(services, sn)
	}
	d.mu.RUnlock()

	for _, sn := range services {
		d.reconcileChannel(ctx, sn)
	}

	d.circuits.UpdateServices()
}

func (d *Dispatcher) reconcileChannel(ctx context.Context, service string) {
	ch := d.getOrCreateChannel(service)
	wasExit := ch.Mode() == Exit
	isExit := d.ring.IsExitFor(service)
	exits := d.ring.ExitsFor(service)

	switch {
	case !wasExit && isExit:
		ch.SetMode(Exit)
		d.log.Printf("service %s transitioned forward -> exit", service)
	case wasExit && !isExit:
		for _, hp := range ch.Peers() {
			_ = d.RemovePeerFromService(ctx, service, hp)
		}
		ch.SetMode(Forward)
		ch.ReplacePeers(exits)
		d.log.Printf("service %s transitioned exit -> forward", service)
	case !wasExit && !isExit:
		current := ch.Peers()
		currentSet := make(map[string]struct{}, len(current))
		for _, hp := range current {
			currentSet[hp] = struct{}{}
		}
		exitSet := make(map[string]struct{}, len(exits))
		for _, hp := range exits {
			exitSet[hp] = struct{}{}
		}
		for _, hp := range current {
			if _, ok := exitSet[hp]; !ok {
				ch.RemovePeer(hp)
			}
		}
		for _, hp := range exits {
			if _, ok := currentSet[hp]; !ok {
				ch.AddPeer(hp)
			}
		}
	default: // exit, still exit: refresh the partial range
		if d.remote.PartialAffinityEnabled() {
			d.ensurePartialConnections(ctx, service)
		}
	}
}

// PurgeStaleServices implements the service-purge periodic task (§5): any
// exit-mode channel whose last advertisement predates now-period is
// dropped, its peers removed through RemovePeerFromService. Forward-mode
// channels and channels with no recorded advertisement are not purged, and
// the service's rate-limit counters are left in place.
func (d *Dispatcher) PurgeStaleServices(ctx context.Context, period time.Duration) {
	now := time.Now()

	d.mu.RLock()
	stale := make([]string, 0)
	for sn, ch := range d.channels {
		if ch.Mode() != Exit {
			continue
		}
		last := ch.lastAdvertiseNano()
		if last != 0 && now.Sub(time.Unix(0, last)) > period {
			stale = append(stale, sn)
		}
	}
	d.mu.RUnlock()

	for _, sn := range stale {
		ch, _ := d.Channel(sn)
		for _, hp := range ch.Peers() {
			_ = d.RemovePeerFromService(ctx, sn, hp)
		}
		d.mu.Lock()
		delete(d.channels, sn)
		d.mu.Unlock()
		d.log.Printf("purged stale service channel %s", sn)
	}
}

// EmitStats implements the stat-emit periodic task (§5): per-service peer
// and connected-peer counts, plus rate-limiter gauges.
func (d *Dispatcher) EmitStats(now time.Time) {
	d.mu.RLock()
	snapshot := make(map[string]*Channel, len(d.channels))
	for sn, ch := range d.channels {
		snapshot[sn] = ch
	}
	d.mu.RUnlock()

	d.stats.RateLimiterRps("", d.limiter.TotalRps(now))
	for sn, ch := range snapshot {
		d.stats.ServicePeerCount(sn, len(ch.Peers()))
		d.stats.ServiceConnectedPeerCount(sn, len(d.peers.ConnectedServicePeers(sn)))
		d.stats.RateLimiterRps(sn, d.limiter.ServiceRps(sn, now))
	}
}

// Close tears down every service channel's peers, aggregating errors with
// multierror the way the teacher's DRPCServer.Close() aggregates
// component-shutdown failures, replacing its hand-rolled strings.Builder
// loop.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.RLock()
	services := make([]string, 0, len(d.channels))
	for sn := range d.channels {
		services = append(services, sn)
	}
	d.mu.RUnlock()

	var result *multierror.Error
	for _, sn := range services {
		ch, _ := d.Channel(sn)
		for _, hp := range ch.Peers() {
			if err := d.RemovePeerFromService(ctx, sn, hp); err != nil {
				result = multierror.Append(result, fmt.Errorf("service %s peer %s: %w", sn, hp, err))
			}
		}
	}
	return result.ErrorOrNil()
}
