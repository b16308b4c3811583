package advertise

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	glog "github.com/omgolab/go-commons/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omgolab/bahnrouter/circuit"
	"github.com/omgolab/bahnrouter/config"
	"github.com/omgolab/bahnrouter/dispatch"
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
	relayCalls []string
	fail       bool
}

func (f *fakeConnector) EnsureOutbound(ctx context.Context, hostPort string) error { return nil }
func (f *fakeConnector) Drain(ctx context.Context, hostPort string, goal dispatch.DrainGoal, direction dispatch.DrainDirection, timeout time.Duration) error {
	return nil
}
func (f *fakeConnector) ClosePeer(hostPort string) error { return nil }
func (f *fakeConnector) RelayAd(ctx context.Context, hostPort string, unadvertise bool, services []dispatch.ServiceAd) error {
	f.relayCalls = append(f.relayCalls, hostPort)
	if f.fail {
		return assertErr
	}
	return nil
}

var assertErr = assertError("relay failed")

type assertError string

func (e assertError) Error() string { return string(e) }

type fakeForwarder struct {
	peers []DiscoveredPeer
	err   error
}

func (f *fakeForwarder) DiscoverAffine(ctx context.Context, exitHostPort, serviceName string) ([]DiscoveredPeer, error) {
	return f.peers, f.err
}

type noopSink struct{}

func (noopSink) ServicePeerCount(string, int)                                      {}
func (noopSink) ServiceConnectedPeerCount(string, int)                              {}
func (noopSink) RateLimiterRps(string, float64)                                     {}
func (noopSink) RateLimiterLimit(string, float64)                                   {}
func (noopSink) CircuitStateChange(*circuit.Circuit, circuit.State, circuit.State) {}
func (noopSink) RelayFanout(string, bool)                                          {}

func newTestHandler(t *testing.T, self string, exits map[string][]string) (*Handler, *dispatch.Dispatcher, *fakeConnector) {
	t.Helper()
	log, err := glog.New()
	require.NoError(t, err)

	rv := &fakeRing{self: self, exits: exits}
	remote := config.NewRemote()
	remote.UpdatePartialAffinityEnabled(false)
	limiter := ratelimit.New(remote, config.DefaultRateLimitPeriod, config.DefaultNumBuckets)
	circuits := circuit.New(circuit.DefaultParams(), rv.IsExitFor, nil)
	peers := peerstate.New()
	conn := &fakeConnector{}

	d := dispatch.New(log, rv, remote, limiter, circuits, peers, conn, noopSink{})
	h := New(log, d, rv, conn, &fakeForwarder{})
	return h, d, conn
}

func TestHandleAdFansOutToExits(t *testing.T) {
	h, _, conn := newTestHandler(t, "h1:1", map[string][]string{"steve": {"h1:1", "h2:1"}})

	body, _ := json.Marshal(AdRequest{Services: []ServiceEntry{{ServiceName: "steve", Cost: 1}}})
	req := httptest.NewRequest(http.MethodPost, "/ad", bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.9:5000"
	rec := httptest.NewRecorder()

	h.Mux().ServeHTTP(rec, req)

	var resp AdResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.ConnectionCount)

	assert.Eventually(t, func() bool { return len(conn.relayCalls) == 2 }, time.Second, 5*time.Millisecond)
}

func TestHandleRelayAdRefreshesServicePeer(t *testing.T) {
	h, d, _ := newTestHandler(t, "h1:1", map[string][]string{"steve": {"h1:1"}})

	body, _ := json.Marshal(RelayAdRequest{Services: []RelayServiceEntry{{ServiceName: "steve", HostPort: "w1:1", Cost: 1}}})
	req := httptest.NewRequest(http.MethodPost, "/relay-ad", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	ch, ok := d.Channel("steve")
	require.True(t, ok)
	assert.True(t, ch.HasPeer("w1:1"))
}

func TestHandleDiscoverReturnsInvalidServiceNameOnEmpty(t *testing.T) {
	h, _, _ := newTestHandler(t, "h1:1", nil)

	body, _ := json.Marshal(DiscoverRequest{ServiceName: ""})
	req := httptest.NewRequest(http.MethodPost, "/discover", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, ErrInvalidServiceName, resp["error"])
}

func TestHandleDiscoverReturnsNoPeersAvailableWhenEmpty(t *testing.T) {
	h, _, _ := newTestHandler(t, "h1:1", map[string][]string{"steve": {"h1:1"}})

	body, _ := json.Marshal(DiscoverRequest{ServiceName: "steve"})
	req := httptest.NewRequest(http.MethodPost, "/discover", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDiscoverReturnsPeersOnceAdvertised(t *testing.T) {
	h, d, _ := newTestHandler(t, "h1:1", map[string][]string{"steve": {"h1:1"}})
	require.NoError(t, d.RefreshServicePeer(context.Background(), "steve", "10.0.0.5:4040"))

	body, _ := json.Marshal(DiscoverRequest{ServiceName: "steve"})
	req := httptest.NewRequest(http.MethodPost, "/discover", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Mux().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp DiscoverResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, uint16(4040), resp.Peers[0].Port)
}
