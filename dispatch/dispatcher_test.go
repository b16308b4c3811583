package dispatch

import (
	"context"
	"testing"
	"time"

	glog "github.com/omgolab/go-commons/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omgolab/bahnrouter/circuit"
	"github.com/omgolab/bahnrouter/config"
	"github.com/omgolab/bahnrouter/peerstate"
	"github.com/omgolab/bahnrouter/ratelimit"
)

type fakeRing struct {
	self  string
	exits map[string][]string
}

func (f *fakeRing) ExitsFor(service string) []string { return f.exits[service] }
func (f *fakeRing) IsExitFor(service string) bool {
	for _, hp := range f.exits[service] {
		if hp == f.self {
			return true
		}
	}
	return false
}
func (f *fakeRing) Self() string { return f.self }

type fakeConnector struct {
	outboundOpened []string
	drained        []string
	closed         []string
}

func (f *fakeConnector) EnsureOutbound(ctx context.Context, hostPort string) error {
	f.outboundOpened = append(f.outboundOpened, hostPort)
	return nil
}
func (f *fakeConnector) Drain(ctx context.Context, hostPort string, goal DrainGoal, direction DrainDirection, timeout time.Duration) error {
	f.drained = append(f.drained, hostPort)
	return nil
}
func (f *fakeConnector) ClosePeer(hostPort string) error {
	f.closed = append(f.closed, hostPort)
	return nil
}
func (f *fakeConnector) RelayAd(ctx context.Context, hostPort string, unadvertise bool, services []ServiceAd) error {
	return nil
}

type noopSink struct{}

func (noopSink) ServicePeerCount(string, int)                               {}
func (noopSink) ServiceConnectedPeerCount(string, int)                      {}
func (noopSink) RateLimiterRps(string, float64)                             {}
func (noopSink) RateLimiterLimit(string, float64)                           {}
func (noopSink) CircuitStateChange(*circuit.Circuit, circuit.State, circuit.State) {}
func (noopSink) RelayFanout(string, bool)                                   {}

func newTestDispatcher(t *testing.T, self string, exits map[string][]string) (*Dispatcher, *fakeConnector, *config.Remote) {
	t.Helper()
	log, err := glog.New()
	require.NoError(t, err)

	remote := config.NewRemote()
	rv := &fakeRing{self: self, exits: exits}
	limiter := ratelimit.New(remote, config.DefaultRateLimitPeriod, config.DefaultNumBuckets)
	circuits := circuit.New(circuit.DefaultParams(), rv.IsExitFor, nil)
	peers := peerstate.New()
	conn := &fakeConnector{}

	d := New(log, rv, remote, limiter, circuits, peers, conn, noopSink{})
	return d, conn, remote
}

func TestAdmitRejectsEmptyServiceName(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "h1:1", nil)
	err := d.Admit(Request{}, false, time.Now())
	we, ok := err.(*WireError)
	require.True(t, ok)
	assert.Equal(t, CodeBadRequest, we.Code)
}

func TestAdmitRequiresCallerOnLazyPath(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "h1:1", nil)
	err := d.Admit(Request{ServiceName: "steve"}, true, time.Now())
	we, ok := err.(*WireError)
	require.True(t, ok)
	assert.Equal(t, CodeBadRequest, we.Code)
}

func TestAdmitDropsBlockedEdge(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "h1:1", nil)
	d.Blocker().BlockOperator("bob~~steve")
	err := d.Admit(Request{ServiceName: "steve", CallerName: "bob"}, false, time.Now())
	assert.True(t, IsDropped(err))
}

func TestAdmitUsesRoutingDelegateAsEffectiveService(t *testing.T) {
	d, _, _ := newTestDispatcher(t, "h1:1", nil)
	d.Blocker().BlockOperator("bob~~redirected")
	err := d.Admit(Request{ServiceName: "steve", CallerName: "bob", RoutingDelegate: "redirected"}, false, time.Now())
	assert.True(t, IsDropped(err))
}

func TestRefreshServicePeerAddsPeerInExitMode(t *testing.T) {
	d, conn, remote := newTestDispatcher(t, "h1:1", map[string][]string{"steve": {"h1:1"}})
	remote.UpdatePartialAffinityEnabled(false)

	err := d.RefreshServicePeer(context.Background(), "steve", "w1:1")
	require.NoError(t, err)

	ch, ok := d.Channel("steve")
	require.True(t, ok)
	assert.Equal(t, Exit, ch.Mode())
	assert.True(t, ch.HasPeer("w1:1"))
	assert.Contains(t, conn.outboundOpened, "w1:1")
}

func TestRefreshServicePeerDroppedInForwardMode(t *testing.T) {
	d, conn, _ := newTestDispatcher(t, "h2:1", map[string][]string{"steve": {"h1:1"}})

	err := d.RefreshServicePeer(context.Background(), "steve", "w1:1")
	require.NoError(t, err)

	ch, ok := d.Channel("steve")
	require.True(t, ok)
	assert.Equal(t, Forward, ch.Mode())
	assert.False(t, ch.HasPeer("w1:1"))
	assert.Empty(t, conn.outboundOpened)
}

func TestRemovePeerFromServiceDrainsWhenUnreferenced(t *testing.T) {
	d, conn, remote := newTestDispatcher(t, "h1:1", map[string][]string{"steve": {"h1:1"}})
	remote.UpdatePartialAffinityEnabled(false)

	require.NoError(t, d.RefreshServicePeer(context.Background(), "steve", "w1:1"))
	require.NoError(t, d.RemovePeerFromService(context.Background(), "steve", "w1:1"))

	ch, _ := d.Channel("steve")
	assert.False(t, ch.HasPeer("w1:1"))
	assert.Contains(t, conn.drained, "w1:1")
	assert.Contains(t, conn.closed, "w1:1")
}

func TestUpdateServiceChannelsFlipsModeOnMembershipChange(t *testing.T) {
	d, _, remote := newTestDispatcher(t, "h1:1", map[string][]string{"steve": {"h2:1"}})
	remote.UpdatePartialAffinityEnabled(false)

	_ = d.getOrCreateChannel("steve")
	ch, _ := d.Channel("steve")
	require.Equal(t, Forward, ch.Mode())

	rv := d.ring.(*fakeRing)
	rv.exits["steve"] = []string{"h1:1"}

	d.UpdateServiceChannels(context.Background())

	ch, _ = d.Channel("steve")
	assert.Equal(t, Exit, ch.Mode())
}

func TestDispatchReturnsDeclinedWhenNoPeers(t *testing.T) {
	d, _, remote := newTestDispatcher(t, "h1:1", map[string][]string{"steve": {"h1:1"}})
	remote.UpdatePartialAffinityEnabled(false)

	_, _, err := d.Dispatch(Request{ServiceName: "steve"})
	we, ok := err.(*WireError)
	require.True(t, ok)
	assert.Equal(t, CodeDeclined, we.Code)
}

func TestDispatchReturnsAPeerOnceAdvertised(t *testing.T) {
	d, _, remote := newTestDispatcher(t, "h1:1", map[string][]string{"steve": {"h1:1"}})
	remote.UpdatePartialAffinityEnabled(false)

	require.NoError(t, d.RefreshServicePeer(context.Background(), "steve", "w1:1"))
	_, peer, err := d.Dispatch(Request{ServiceName: "steve"})
	require.NoError(t, err)
	assert.Equal(t, "w1:1", peer)
}
