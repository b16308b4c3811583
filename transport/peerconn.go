package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	glog "github.com/omgolab/go-commons/pkg/log"

	"github.com/omgolab/bahnrouter/advertise"
	"github.com/omgolab/bahnrouter/config"
	"github.com/omgolab/bahnrouter/dispatch"
)

// PeerConnector implements dispatch.Connector and advertise.Forwarder over a
// libp2p host: the host:port strings the dispatch core hands it are
// expected to be libp2p multiaddrs with a trailing /p2p/<peerID> component,
// the form peer.AddrInfoFromP2pAddr parses directly.
type PeerConnector struct {
	h   host.Host
	log glog.Logger
}

var (
	_ dispatch.Connector  = (*PeerConnector)(nil)
	_ advertise.Forwarder = (*PeerConnector)(nil)
)

// NewPeerConnector binds a PeerConnector to a running libp2p host.
func NewPeerConnector(h host.Host, log glog.Logger) *PeerConnector {
	return &PeerConnector{h: h, log: log}
}

func addrInfoFromHostPort(hostPort string) (peer.AddrInfo, error) {
	ma, err := multiaddr.NewMultiaddr(hostPort)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("transport: %q is not a libp2p multiaddr: %w", hostPort, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("transport: %q has no peer id component: %w", hostPort, err)
	}
	return *info, nil
}

// EnsureOutbound dials the peer if not already connected.
func (c *PeerConnector) EnsureOutbound(ctx context.Context, hostPort string) error {
	info, err := addrInfoFromHostPort(hostPort)
	if err != nil {
		return err
	}
	return c.h.Connect(ctx, info)
}

// ClosePeer tears down every connection to the peer.
func (c *PeerConnector) ClosePeer(hostPort string) error {
	info, err := addrInfoFromHostPort(hostPort)
	if err != nil {
		return err
	}
	return c.h.Network().ClosePeer(info.ID)
}

// Drain closes open streams to the peer (on outbound connections only when
// direction is DirectionOutbound), and the connection itself when the goal
// is to close the peer outright rather than just stop routing new traffic
// to it.
func (c *PeerConnector) Drain(ctx context.Context, hostPort string, goal dispatch.DrainGoal, direction dispatch.DrainDirection, timeout time.Duration) error {
	info, err := addrInfoFromHostPort(hostPort)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for _, conn := range c.h.Network().ConnsToPeer(info.ID) {
		if direction == dispatch.DirectionOutbound && conn.Stat().Direction != network.DirOutbound {
			continue
		}
		for _, s := range conn.GetStreams() {
			_ = s.SetDeadline(deadline)
			_ = s.Close()
		}
	}

	if goal == dispatch.GoalClosePeer {
		return c.h.Network().ClosePeer(info.ID)
	}
	return nil
}

// RelayAd calls the target router's relay-ad/relay-unad endpoint.
func (c *PeerConnector) RelayAd(ctx context.Context, hostPort string, unadvertise bool, services []dispatch.ServiceAd) error {
	info, err := addrInfoFromHostPort(hostPort)
	if err != nil {
		return err
	}
	if err := c.h.Connect(ctx, info); err != nil {
		return err
	}

	entries := make([]advertise.RelayServiceEntry, len(services))
	for i, s := range services {
		entries[i] = advertise.RelayServiceEntry{ServiceName: s.ServiceName, HostPort: s.HostPort, Cost: s.Cost}
	}
	body, err := json.Marshal(advertise.RelayAdRequest{Services: entries})
	if err != nil {
		return err
	}

	path := "/relay-ad"
	if unadvertise {
		path = "/relay-unad"
	}
	return c.postJSON(ctx, info.ID, path, config.CallerName, body, nil)
}

// DiscoverAffine calls an exit's discoverAffine endpoint directly, used by
// package advertise to forward a discover request that arrived at a
// forward-mode channel.
func (c *PeerConnector) DiscoverAffine(ctx context.Context, exitHostPort, serviceName string) ([]advertise.DiscoveredPeer, error) {
	info, err := addrInfoFromHostPort(exitHostPort)
	if err != nil {
		return nil, err
	}
	if err := c.h.Connect(ctx, info); err != nil {
		return nil, err
	}

	body, err := json.Marshal(advertise.DiscoverRequest{ServiceName: serviceName})
	if err != nil {
		return nil, err
	}

	// cn: hyperbahn (§6) tells the receiving exit's discoverAffine handler
	// this call is already a forward, so it must not forward again.
	var resp advertise.DiscoverResponse
	if err := c.postJSON(ctx, info.ID, "/discoverAffine", config.ForwardedCallerName, body, &resp); err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

func (c *PeerConnector) httpClient(peerID peer.ID) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dial(ctx, c.h, config.AdvertiseProtocolID, peerID)
			},
		},
	}
}

func (c *PeerConnector) postJSON(ctx context.Context, peerID peer.ID, path, callerName string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://bahnrouter"+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("cn", callerName)

	resp, err := c.httpClient(peerID).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("transport: %s returned %d: %s", path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
