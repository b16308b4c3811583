// Package ratelimit implements the sliding-window RPS counters described in
// spec §4.5: a total counter, per-service counters, a stats-only per-edge
// counter, and a kill-switch tier layered above the soft RPS limit.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/omgolab/bahnrouter/config"
)

// bucketCounter is the `numOfBuckets`-bucket sliding window from §4.5: each
// bucket covers period/numOfBuckets; on every increment stale buckets are
// rotated to zero and the RPS is the sum of all buckets.
type bucketCounter struct {
	mu         sync.Mutex
	buckets    []float64
	bucketTime time.Duration
	lastIndex  int
	lastRotate time.Time
	limit      float64
}

func newBucketCounter(period time.Duration, numBuckets int, limit float64) *bucketCounter {
	if numBuckets <= 0 {
		numBuckets = config.DefaultNumBuckets
	}
	return &bucketCounter{
		buckets:    make([]float64, numBuckets),
		bucketTime: period / time.Duration(numBuckets),
		lastRotate: time.Now(),
		limit:      limit,
	}
}

// rotate must be called with the lock held. It advances lastIndex forward
// to "now", zeroing every bucket skipped over in between.
func (c *bucketCounter) rotate(now time.Time) {
	if c.bucketTime <= 0 {
		return
	}
	elapsed := now.Sub(c.lastRotate)
	steps := int(elapsed / c.bucketTime)
	if steps <= 0 {
		return
	}
	n := len(c.buckets)
	if steps >= n {
		for i := range c.buckets {
			c.buckets[i] = 0
		}
		c.lastIndex = 0
	} else {
		for i := 1; i <= steps; i++ {
			c.buckets[(c.lastIndex+i)%n] = 0
		}
		c.lastIndex = (c.lastIndex + steps) % n
	}
	c.lastRotate = now
}

// increment rotates stale buckets, adds one to the current bucket, and
// returns the resulting summed rps.
func (c *bucketCounter) increment(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotate(now)
	c.buckets[c.lastIndex]++
	return c.sumLocked()
}

func (c *bucketCounter) rps(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rotate(now)
	return c.sumLocked()
}

func (c *bucketCounter) sumLocked() float64 {
	var sum float64
	for _, b := range c.buckets {
		sum += b
	}
	return sum
}

// setLimit updates the limit in place without touching bucket contents,
// matching invariant 7 (counter values preserved across limit updates).
func (c *bucketCounter) setLimit(limit float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = limit
}

func (c *bucketCounter) getLimit() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// Limiter owns the total, per-service, per-edge, and kill-switch counters.
// The per-edge counter set is bounded by an LRU: routers see an unbounded
// number of distinct (caller,service) edges over their lifetime, and edge
// counters are stats-only, so the least-recently-used edges are evicted
// rather than retained forever (replacing the teacher's hand-rolled
// prunePeerMap size cap in pkg/core/relay/manager.go with the library built
// for exactly that job).
type Limiter struct {
	remote *config.Remote

	period     time.Duration
	numBuckets int

	mu               sync.RWMutex
	total            *bucketCounter
	services         map[string]*bucketCounter
	killSwitches     map[string]*bucketCounter
	edges            *lru.Cache
	totalKillSwitchX float64
}

const maxEdgeCounters = 8192

// New builds a Limiter bound to the shared remote config. period is the
// sliding-window length; numBuckets the sub-bucket count.
func New(remote *config.Remote, period time.Duration, numBuckets int) *Limiter {
	edges, _ := lru.New(maxEdgeCounters)
	return &Limiter{
		remote:           remote,
		period:           period,
		numBuckets:       numBuckets,
		total:            newBucketCounter(period, numBuckets, remote.TotalRpsLimit()),
		services:         make(map[string]*bucketCounter),
		killSwitches:     make(map[string]*bucketCounter),
		edges:            edges,
		totalKillSwitchX: config.DefaultTotalKillSwitchMult,
	}
}

func (l *Limiter) serviceCounter(sn string) *bucketCounter {
	l.mu.RLock()
	c, ok := l.services[sn]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.services[sn]; ok {
		return c
	}
	limit, _ := l.remote.ServiceRpsLimit(sn)
	c = newBucketCounter(l.period, l.numBuckets, limit)
	l.services[sn] = c
	return c
}

func (l *Limiter) killSwitchCounter(sn string) *bucketCounter {
	l.mu.RLock()
	c, ok := l.killSwitches[sn]
	l.mu.RUnlock()
	if ok {
		return c
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.killSwitches[sn]; ok {
		return c
	}
	limit, _ := l.remote.ServiceRpsLimit(sn)
	c = newBucketCounter(l.period, l.numBuckets, limit*l.totalKillSwitchX)
	l.killSwitches[sn] = c
	return c
}

// IncrementEdge bumps the stats-only cn~~sn counter (§4.2 step 5.a).
func (l *Limiter) IncrementEdge(cn, sn string, now time.Time) {
	key := config.EdgeKey(cn, sn)
	l.mu.Lock()
	v, ok := l.edges.Get(key)
	var c *bucketCounter
	if ok {
		c = v.(*bucketCounter)
	} else {
		c = newBucketCounter(l.period, l.numBuckets, 0)
		l.edges.Add(key, c)
	}
	l.mu.Unlock()
	c.increment(now)
}

// EnsureServiceCounters makes sure the service and kill-switch counters
// exist for sn, per §4.2 step 5.b (called only when this router is an exit
// for sn).
func (l *Limiter) EnsureServiceCounters(sn string) {
	l.serviceCounter(sn)
	l.killSwitchCounter(sn)
}

// ShouldKillSwitchTotalRequest reports whether the total kill-switch tier
// has tripped.
func (l *Limiter) ShouldKillSwitchTotalRequest(now time.Time) bool {
	limit := l.total.getLimit() * l.totalKillSwitchX
	if limit <= 0 {
		return false
	}
	return l.total.rps(now) >= limit
}

// ShouldKillSwitchService reports whether sn's kill-switch tier has
// tripped.
func (l *Limiter) ShouldKillSwitchService(sn string, now time.Time) bool {
	c := l.killSwitchCounter(sn)
	limit := c.getLimit()
	if limit <= 0 {
		return false
	}
	return c.rps(now) >= limit
}

// IncrementKillSwitchCounters bumps sn's kill-switch counter (§4.2 step
// 5.d); called after the kill-switch check passes. The total kill-switch
// tier has no counter of its own: it reads the total counter, which
// IncrementTotal bumps.
func (l *Limiter) IncrementKillSwitchCounters(sn string, now time.Time) {
	l.killSwitchCounter(sn).increment(now)
}

// ShouldRateLimitTotalRequest reports whether incrementing now would put
// the total counter over its limit; it does not itself increment.
func (l *Limiter) ShouldRateLimitTotalRequest(now time.Time) bool {
	limit := l.total.getLimit()
	if limit <= 0 {
		return false
	}
	return l.total.rps(now) >= limit
}

// ShouldRateLimitService mirrors ShouldRateLimitTotalRequest for a single
// service's soft limit.
func (l *Limiter) ShouldRateLimitService(sn string, now time.Time) bool {
	c := l.serviceCounter(sn)
	limit := c.getLimit()
	if limit <= 0 {
		return false
	}
	return c.rps(now) >= limit
}

// IncrementTotal bumps the total counter (§4.2 step 5.g).
func (l *Limiter) IncrementTotal(now time.Time) {
	l.total.increment(now)
}

// IncrementService bumps sn's service counter (§4.2 step 5.g, exit only).
func (l *Limiter) IncrementService(sn string, now time.Time) {
	l.serviceCounter(sn).increment(now)
}

// UpdateTotalLimit applies a new total limit without resetting counters.
func (l *Limiter) UpdateTotalLimit(limit float64) {
	l.total.setLimit(limit)
}

// UpdateServiceLimit applies a new limit to one service's counter (creating
// it if unseen) without resetting its bucket contents.
func (l *Limiter) UpdateServiceLimit(sn string, limit float64) {
	l.serviceCounter(sn).setLimit(limit)
	l.killSwitchCounter(sn).setLimit(limit * l.totalKillSwitchX)
}

// TotalRps returns the current summed total rps, for stats emission.
func (l *Limiter) TotalRps(now time.Time) float64 {
	return l.total.rps(now)
}

// ServiceRps returns the current summed per-service rps, for stats
// emission.
func (l *Limiter) ServiceRps(sn string, now time.Time) float64 {
	return l.serviceCounter(sn).rps(now)
}
