package config

import (
	"strings"
	"sync"
	"time"
)

// LogReservoirConfig mirrors the remote `log.reservoir.{size,flushInterval}`
// knobs; the core only threads it through, it never interprets the values.
type LogReservoirConfig struct {
	Size          int
	FlushInterval time.Duration
}

// Remote is the in-memory view of the polled remote-config surface named in
// spec §6. Every exported Update* method is safe to call concurrently with
// reads and mirrors one remote-config key. A Remote is shared by reference
// across the dispatcher, rate limiter, and circuit registry; none of them
// own it.
type Remote struct {
	mu sync.RWMutex

	circuitsEnabled     bool
	rateLimitingEnabled bool
	totalRpsLimit       float64
	exemptServices      map[string]struct{}
	serviceRpsLimits    map[string]float64
	defaultKValue       int
	serviceKValues      map[string]int
	killSwitch          map[string]struct{}
	peerReaperPeriod    time.Duration
	partialAffinity     bool
	logReservoir        LogReservoirConfig
	writeBufferMode     string
	lazyHandlingEnabled bool
}

// NewRemote returns a Remote seeded with the spec's defaults.
func NewRemote() *Remote {
	return &Remote{
		rateLimitingEnabled: true,
		defaultKValue:       DefaultKValue,
		exemptServices:      make(map[string]struct{}),
		serviceRpsLimits:    make(map[string]float64),
		serviceKValues:      make(map[string]int),
		killSwitch:          make(map[string]struct{}),
		peerReaperPeriod:    DefaultPeerReapPeriod,
		partialAffinity:     true,
	}
}

func (r *Remote) CircuitsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.circuitsEnabled
}

func (r *Remote) UpdateCircuitsEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.circuitsEnabled = enabled
}

func (r *Remote) RateLimitingEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rateLimitingEnabled
}

func (r *Remote) UpdateRateLimitingEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimitingEnabled = enabled
}

func (r *Remote) TotalRpsLimit() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalRpsLimit
}

// UpdateTotalLimit corresponds to `rateLimiting.totalRpsLimit`. It only
// changes the limit in place; counters are untouched (invariant 7).
func (r *Remote) UpdateTotalLimit(limit float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalRpsLimit = limit
}

// IsExemptService reports whether sn bypasses all rate-limit checks.
func (r *Remote) IsExemptService(sn string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.exemptServices[sn]
	return ok
}

func (r *Remote) UpdateExemptServices(services []string) {
	m := make(map[string]struct{}, len(services))
	for _, s := range services {
		m[s] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exemptServices = m
}

func (r *Remote) ServiceRpsLimit(sn string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.serviceRpsLimits[sn]
	return l, ok
}

// UpdateRpsLimitForAllServices replaces the per-service RPS limit table.
func (r *Remote) UpdateRpsLimitForAllServices(limits map[string]float64) {
	cp := make(map[string]float64, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serviceRpsLimits = cp
}

// UpdateServiceLimit sets a single service's RPS limit, used by §8 S6.
func (r *Remote) UpdateServiceLimit(sn string, limit float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serviceRpsLimits[sn] = limit
}

func (r *Remote) DefaultKValue() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultKValue
}

func (r *Remote) UpdateDefaultKValue(k int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultKValue = k
}

func (r *Remote) KValueFor(sn string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.serviceKValues[sn]; ok {
		return k
	}
	return r.defaultKValue
}

func (r *Remote) UpdateServiceKValues(values map[string]int) {
	cp := make(map[string]int, len(values))
	for k, v := range values {
		cp[k] = v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serviceKValues = cp
}

// IsKilled reports whether the "cn~~sn" edge is in the kill-switch list.
// "*~~*" is rejected by UpdateKillSwitch before it ever lands here.
func (r *Remote) IsKilled(edge string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.killSwitch[edge]
	return ok
}

// UpdateKillSwitch replaces the kill-switch edge list. "*~~*" entries are
// dropped: a kill switch that silences everything is almost certainly a
// config mistake, not an intentional full black-hole.
func (r *Remote) UpdateKillSwitch(edges []string) {
	m := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		if e == "*~~*" {
			continue
		}
		m[e] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.killSwitch = m
}

// KillSwitchEdges returns the current "cn~~sn" kill-switch list so a
// wiring layer can push it into dispatch.Blocker.SetRemoteBlocks, the
// table actually consulted by Admit's step 4 block check.
func (r *Remote) KillSwitchEdges() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	edges := make([]string, 0, len(r.killSwitch))
	for e := range r.killSwitch {
		edges = append(edges, e)
	}
	return edges
}

func (r *Remote) PeerReaperPeriod() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peerReaperPeriod
}

func (r *Remote) UpdatePeerReaperPeriod(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peerReaperPeriod = d
}

func (r *Remote) PartialAffinityEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.partialAffinity
}

func (r *Remote) UpdatePartialAffinityEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partialAffinity = enabled
}

func (r *Remote) UpdateLogReservoir(cfg LogReservoirConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logReservoir = cfg
}

func (r *Remote) UpdateWriteBufferMode(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeBufferMode = mode
}

func (r *Remote) LazyHandlingEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lazyHandlingEnabled
}

func (r *Remote) UpdateLazyHandlingEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lazyHandlingEnabled = enabled
}

// Snapshot is a point-in-time, read-only copy of the surface a Poller hands
// to ApplySnapshot in one shot, so a poll cycle updates every key instead
// of calling one Update* method per key.
type Snapshot struct {
	CircuitsEnabled     bool
	RateLimitingEnabled bool
	TotalRpsLimit       float64
	ExemptServices      []string
	ServiceRpsLimits    map[string]float64
	DefaultKValue       int
	ServiceKValues      map[string]int
	KillSwitch          []string
	PeerReaperPeriod    time.Duration
	PartialAffinity     bool
	LogReservoir        LogReservoirConfig
	WriteBufferMode     string
	LazyHandlingEnabled bool
}

// ApplySnapshot calls every Update* method once, matching spec §6's "every
// tick calls all updaters" contract.
func (r *Remote) ApplySnapshot(s Snapshot) {
	r.UpdateCircuitsEnabled(s.CircuitsEnabled)
	r.UpdateRateLimitingEnabled(s.RateLimitingEnabled)
	r.UpdateTotalLimit(s.TotalRpsLimit)
	r.UpdateExemptServices(s.ExemptServices)
	r.UpdateRpsLimitForAllServices(s.ServiceRpsLimits)
	r.UpdateDefaultKValue(s.DefaultKValue)
	r.UpdateServiceKValues(s.ServiceKValues)
	r.UpdateKillSwitch(s.KillSwitch)
	r.UpdatePeerReaperPeriod(s.PeerReaperPeriod)
	r.UpdatePartialAffinityEnabled(s.PartialAffinity)
	r.UpdateLogReservoir(s.LogReservoir)
	r.UpdateWriteBufferMode(s.WriteBufferMode)
	r.UpdateLazyHandlingEnabled(s.LazyHandlingEnabled)
}

// Poller is the external collaborator that supplies new Snapshots. The core
// only consumes it; process wiring decides how snapshots are actually
// fetched (file watch, HTTP poll, etc.) per spec §1's "out of scope"
// boundary.
type Poller interface {
	Poll() (Snapshot, error)
}

// EdgeKey formats the "cn~~sn" block/kill-switch key used throughout the
// admission path.
func EdgeKey(cn, sn string) string {
	var b strings.Builder
	b.Grow(len(cn) + len(sn) + 2)
	b.WriteString(cn)
	b.WriteString("~~")
	b.WriteString(sn)
	return b.String()
}
