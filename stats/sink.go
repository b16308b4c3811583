// Package stats defines the Sink interface the dispatch core emits
// through (an external collaborator per spec §1) and a Prometheus-backed
// implementation, the concrete sink SPEC_FULL's stat-emit task was
// designed against.
package stats

import "github.com/omgolab/bahnrouter/circuit"

// Sink is the statsd/metrics collaborator boundary. The dispatcher and
// circuit registry only ever call through this interface; how the numbers
// are actually published is out of the core's scope.
type Sink interface {
	// ServicePeerCount records the number of peers held by a service
	// channel: worker peers in exit mode, exit host-ports in forward mode.
	ServicePeerCount(service string, count int)
	// ServiceConnectedPeerCount records the partial-affinity connected
	// subset size for a service.
	ServiceConnectedPeerCount(service string, count int)
	// RateLimiterRps records the current summed rps for the total or a
	// named-service counter ("" denotes the total counter).
	RateLimiterRps(service string, rps float64)
	// RateLimiterLimit records the currently configured limit alongside
	// RateLimiterRps.
	RateLimiterLimit(service string, limit float64)
	// CircuitStateChange is invoked whenever a circuit transitions state.
	CircuitStateChange(c *circuit.Circuit, from, to circuit.State)
	// RelayFanout records one relay-ad/relay-unad attempt outcome.
	RelayFanout(kind string, success bool)
}
