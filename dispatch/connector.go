package dispatch

import (
	"context"
	"time"
)

// DrainGoal distinguishes a prune-driven drain (goal=close-drained, the
// peer may still be referenced by other service channels) from an
// unadvertise-driven one (goal=close-peer, nothing references it anymore),
// per §3/§4.2.
type DrainGoal string

const (
	GoalCloseDrained DrainGoal = "close-drained"
	GoalClosePeer    DrainGoal = "close-peer"
)

// DrainDirection is which half of the connection a drain affects. Pruning
// only ever closes outbound; reaping and unadvertise-driven drains close
// both directions (§3).
type DrainDirection string

const (
	DirectionOutbound DrainDirection = "out"
	DirectionBoth      DrainDirection = "both"
)

// Connector is the transport collaborator the dispatcher drives peer
// connections through (spec §1's "out of scope: the underlying framed RPC
// transport and its connection objects"). The dispatch core only ever
// calls through this interface; package transport supplies the concrete
// libp2p-backed implementation.
type Connector interface {
	// EnsureOutbound opens an outbound connection to hostPort if one isn't
	// already open, and cancels any in-flight drain against it.
	EnsureOutbound(ctx context.Context, hostPort string) error
	// Drain closes hostPort's connection(s) per goal/direction, waiting up
	// to timeout. On expiry the peer is closed anyway (§7).
	Drain(ctx context.Context, hostPort string, goal DrainGoal, direction DrainDirection, timeout time.Duration) error
	// ClosePeer deletes hostPort from the transport's peer table outright
	// (called once drain has completed or a reap has fired).
	ClosePeer(hostPort string) error
	// RelayAd sends a relay-ad/relay-unad style RPC to hostPort (the peer
	// router, not a worker) with the given timeout and no retries; the
	// advertise package's sendRelay owns the retry loop around this call.
	RelayAd(ctx context.Context, hostPort string, unadvertise bool, services []ServiceAd) error
}

// ServiceAd is one entry of an ad/relay-ad request body (§6).
type ServiceAd struct {
	ServiceName string
	HostPort    string
	Cost        int
}
