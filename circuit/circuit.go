// Package circuit implements the three-level service → caller → endpoint
// circuit breaker registry described in spec §4.3.
package circuit

import (
	"sync"
	"time"
)

// State is a circuit's health.
type State int

const (
	Healthy State = iota
	Unhealthy
)

func (s State) String() string {
	if s == Healthy {
		return "healthy"
	}
	return "unhealthy"
}

// noCallerName is the sentinel used when a request carries no caller name,
// so unnamed callers share one circuit per (service, endpoint).
const noCallerName = "no-cn"

// StateChangeListener is notified on every circuit transition; the stats
// sink is the primary consumer.
type StateChangeListener func(c *Circuit, from, to State)

// Params configures a circuit's state machine. Zero-value Params uses the
// registry's defaults.
type Params struct {
	Period       time.Duration
	MinRequests  int
	MaxErrorRate float64
	Probation    int
}

// Circuit is a per-(callerName, serviceName, endpointName) health state
// machine gating calls, per §3 and §4.3.
type Circuit struct {
	CallerName   string
	ServiceName  string
	EndpointName string

	mu    sync.Mutex
	state State
	params Params

	windowStart      time.Time
	requests, errors int

	probationStreak int

	onChange StateChangeListener
}

func newCircuit(cn, sn, en string, params Params, onChange StateChangeListener) *Circuit {
	return &Circuit{
		CallerName:   cn,
		ServiceName:  sn,
		EndpointName: en,
		state:        Healthy,
		params:       params,
		windowStart:  time.Now(),
		onChange:     onChange,
	}
}

// State returns the circuit's current state.
func (c *Circuit) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ShouldRequest reports whether a request should be admitted: true while
// Healthy, false for every request while Unhealthy. No probe requests are
// admitted while Unhealthy; the circuit returns to Healthy only once
// `probation` consecutive successes have been passed to RecordOutcome.
func (c *Circuit) ShouldRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Healthy
}

// RecordOutcome registers the outcome of one request and evaluates the
// state machine transitions from §4.3. While Healthy the outcome counts
// toward the current window's error rate; while Unhealthy a success extends
// the probation streak and an error resets it.
func (c *Circuit) RecordOutcome(now time.Time, errored bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Healthy:
		c.rollWindowLocked(now)
		c.requests++
		if errored {
			c.errors++
		}
		if c.requests >= c.params.MinRequests && c.errorRateLocked() > c.params.MaxErrorRate {
			c.transitionLocked(Unhealthy)
		}
	case Unhealthy:
		if errored {
			c.probationStreak = 0
			return
		}
		c.probationStreak++
		if c.probationStreak >= c.params.Probation {
			c.probationStreak = 0
			c.requests, c.errors = 0, 0
			c.windowStart = now
			c.transitionLocked(Healthy)
		}
	}
}

func (c *Circuit) errorRateLocked() float64 {
	if c.requests == 0 {
		return 0
	}
	return float64(c.errors) / float64(c.requests)
}

// rollWindowLocked resets the requests/errors counters at period
// boundaries, evaluated lazily on the next outcome rather than via a
// background timer.
func (c *Circuit) rollWindowLocked(now time.Time) {
	if c.params.Period <= 0 {
		return
	}
	if now.Sub(c.windowStart) >= c.params.Period {
		c.requests, c.errors = 0, 0
		c.windowStart = now
	}
}

func (c *Circuit) transitionLocked(to State) {
	from := c.state
	c.state = to
	if c.onChange != nil {
		listener := c.onChange
		go listener(c, from, to)
	}
}

// Snapshot is a read-only view of a circuit for the debug surface.
type Snapshot struct {
	CallerName   string  `json:"callerName"`
	ServiceName  string  `json:"serviceName"`
	EndpointName string  `json:"endpointName"`
	Healthy      bool    `json:"healthy"`
	Requests     int     `json:"requests"`
	Errors       int     `json:"errors"`
}

// Snapshot returns a JSON-friendly view of this circuit's current state.
func (c *Circuit) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		CallerName:   c.CallerName,
		ServiceName:  c.ServiceName,
		EndpointName: c.EndpointName,
		Healthy:      c.state == Healthy,
		Requests:     c.requests,
		Errors:       c.errors,
	}
}

// Registry is the three-level service → caller → endpoint map from §4.3.
type Registry struct {
	params   Params
	onChange StateChangeListener

	mu       sync.RWMutex
	services map[string]map[string]map[string]*Circuit

	isExitFor func(service string) bool
}

// DefaultParams returns the spec's default circuit tunables.
func DefaultParams() Params {
	return Params{
		Period:       10 * time.Second,
		MinRequests:  5,
		MaxErrorRate: 0.5,
		Probation:    5,
	}
}

// New builds a Registry. isExitFor is used by UpdateServices to drop
// subtrees for services this router no longer owns.
func New(params Params, isExitFor func(service string) bool, onChange StateChangeListener) *Registry {
	return &Registry{
		params:    params,
		onChange:  onChange,
		services:  make(map[string]map[string]map[string]*Circuit),
		isExitFor: isExitFor,
	}
}

func normalizeCaller(cn string) string {
	if cn == "" {
		return noCallerName
	}
	return cn
}

// GetOrCreate returns the circuit for (cn, sn, en), creating it in the
// Healthy state on first reference.
func (r *Registry) GetOrCreate(cn, sn, en string) *Circuit {
	cn = normalizeCaller(cn)

	r.mu.RLock()
	if callers, ok := r.services[sn]; ok {
		if endpoints, ok := callers[cn]; ok {
			if c, ok := endpoints[en]; ok {
				r.mu.RUnlock()
				return c
			}
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	callers, ok := r.services[sn]
	if !ok {
		callers = make(map[string]map[string]*Circuit)
		r.services[sn] = callers
	}
	endpoints, ok := callers[cn]
	if !ok {
		endpoints = make(map[string]*Circuit)
		callers[cn] = endpoints
	}
	c, ok := endpoints[en]
	if !ok {
		c = newCircuit(cn, sn, en, r.params, r.onChange)
		endpoints[en] = c
	}
	return c
}

// UpdateServices iterates known services and drops entries for which this
// router is no longer an exit, per §4.3's updateServices.
func (r *Registry) UpdateServices() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sn := range r.services {
		if !r.isExitFor(sn) {
			delete(r.services, sn)
		}
	}
}

// Snapshot returns every known circuit, for the debug surface.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Snapshot
	for _, callers := range r.services {
		for _, endpoints := range callers {
			for _, c := range endpoints {
				out = append(out, c.Snapshot())
			}
		}
	}
	return out
}
