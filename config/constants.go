// Package config holds the router's static tunables and the dynamic,
// polled remote-config surface described by the external configuration
// collaborator.
package config

import (
	"os"
	"strconv"
	"time"
)

// Protocol constants.
const (
	// AdvertiseProtocolID identifies the advertise/discover RPC service on
	// the underlying framed transport.
	AdvertiseProtocolID = "/bahnrouter/advertise/1.0.0"

	// CallerName is the identity this router presents on outbound fan-out
	// requests it originates itself.
	CallerName = "autobahn"

	// ForwardedCallerName is stamped on forwarded discover calls so the
	// receiving exit knows not to forward again.
	ForwardedCallerName = "hyperbahn"

	// DiscoveryTag is the mDNS/DHT rendezvous tag routers use to find each
	// other at the transport layer, separate from the router's own
	// service-level advertise/unadvertise protocol.
	DiscoveryTag = "bahnrouter"

	// DiscoveryPubsubTopic is the gossipsub topic routers use to announce
	// liveness to each other for transport-level connectivity.
	DiscoveryPubsubTopic = "bahnrouter/peer-presence/1.0.0"

	// DHTPeerDiscoveryInterval is the interval between DHT peer discovery
	// attempts.
	DHTPeerDiscoveryInterval = 60 * time.Second
)

// Default periods for the periodic tasks in §5 of the dispatch core.
const (
	DefaultPeerPrunePeriod       = 2 * time.Minute
	DefaultPeerReapPeriod        = 5 * time.Minute
	DefaultServicePurgePeriod    = 5 * time.Minute
	DefaultStatEmitPeriod        = 30 * time.Second
	DefaultRemoteBlockSyncPeriod = 30 * time.Second
)

// Default rate limiter / circuit / partial-affinity tunables.
const (
	DefaultKValue              = 10
	DefaultTotalKillSwitchMult = 10
	DefaultNumBuckets          = 10
	DefaultRateLimitPeriod     = time.Second

	DefaultCircuitPeriod       = 10 * time.Second
	DefaultCircuitMinRequests  = 5
	DefaultCircuitMaxErrorRate = 0.5
	DefaultCircuitProbation    = 5

	DefaultMinPeersPerWorker = 2
	DefaultMinPeersPerRelay  = 2

	DefaultDrainTimeout     = 30 * time.Second
	DefaultRelayAdTimeout   = 500 * time.Millisecond
	DefaultMaxRelayAdTries  = 2
	DefaultRelayAdRetryWait = time.Second
	DefaultDiscoverTimeout  = time.Second
)

// DEBUG mirrors the teacher's pattern of a package-level flag toggled by
// an environment variable, read once at process start.
var DEBUG bool

func init() {
	if v := os.Getenv("DEBUG"); v != "" {
		DEBUG, _ = strconv.ParseBool(v)
	}
}
