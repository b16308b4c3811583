package transport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	glog "github.com/omgolab/go-commons/pkg/log"
	"github.com/stretchr/testify/require"

	"github.com/omgolab/bahnrouter/dispatch"
)

func firstHostPort(t *testing.T, pi peer.AddrInfo) string {
	t.Helper()
	addrs, err := peer.AddrInfoToP2pAddrs(&pi)
	require.NoError(t, err)
	require.NotEmpty(t, addrs)
	return addrs[0].String()
}

func TestPeerConnectorEnsureOutboundAndClose(t *testing.T) {
	log, err := glog.New()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	serverHost, err := CreateLibp2pHost(ctx, WithHostLogger(log), WithPubsubDiscovery(true))
	require.NoError(t, err)
	defer serverHost.Close()

	clientHost, err := CreateLibp2pHost(ctx, WithHostLogger(log), WithPubsubDiscovery(true))
	require.NoError(t, err)
	defer clientHost.Close()

	hostPort := firstHostPort(t, peer.AddrInfo{ID: serverHost.ID(), Addrs: serverHost.Addrs()})

	c := NewPeerConnector(clientHost, log)
	require.NoError(t, c.EnsureOutbound(ctx, hostPort))
	require.NoError(t, c.ClosePeer(hostPort))
}

func TestPeerConnectorRelayAdAndDiscoverAffineRoundTrip(t *testing.T) {
	log, err := glog.New()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	serverHost, err := CreateLibp2pHost(ctx, WithHostLogger(log), WithPubsubDiscovery(true))
	require.NoError(t, err)
	defer serverHost.Close()

	clientHost, err := CreateLibp2pHost(ctx, WithHostLogger(log), WithPubsubDiscovery(true))
	require.NoError(t, err)
	defer clientHost.Close()

	mux := http.NewServeMux()
	var gotRelayAd bool
	mux.HandleFunc("/relay-ad", func(w http.ResponseWriter, r *http.Request) {
		gotRelayAd = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/discoverAffine", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"peers":[{"ipv4":167772161,"port":4040}]}`))
	})

	srv := NewServer(ctx, serverHost, log, mux)
	defer srv.Close(ctx)

	hostPort := firstHostPort(t, peer.AddrInfo{ID: serverHost.ID(), Addrs: serverHost.Addrs()})
	c := NewPeerConnector(clientHost, log)

	err = c.RelayAd(ctx, hostPort, false, []dispatch.ServiceAd{{ServiceName: "steve", HostPort: "w1:1", Cost: 1}})
	require.NoError(t, err)
	require.True(t, gotRelayAd)

	peers, err := c.DiscoverAffine(ctx, hostPort, "steve")
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.EqualValues(t, 4040, peers[0].Port)
}
