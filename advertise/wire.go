// Package advertise implements the inbound ad/unad endpoints and the
// relay fan-out and discovery lookups described in spec §4.7, grounded on
// the same net/http + encoding/json handler shape pkg/gateway/handler.go
// uses for its own HTTP surface.
package advertise

// ServiceEntry is one element of an ad/unad request body (§6).
type ServiceEntry struct {
	ServiceName string `json:"serviceName"`
	Cost        int    `json:"cost"`
}

// RelayServiceEntry is one element of a relay-ad/relay-unad request body;
// unlike ServiceEntry it carries the worker's host-port explicitly, since
// the relay target isn't the one holding the connection to the worker.
type RelayServiceEntry struct {
	ServiceName string `json:"serviceName"`
	HostPort    string `json:"hostPort"`
	Cost        int    `json:"cost"`
}

// AdRequest is the `ad`/`unad` request body.
type AdRequest struct {
	Services []ServiceEntry `json:"services"`
}

// AdResponse is the `ad` response body; `unad` responds with an empty
// object (`{}`) instead.
type AdResponse struct {
	ConnectionCount int `json:"connectionCount"`
}

// RelayAdRequest is the `relay-ad`/`relay-unad` request body.
type RelayAdRequest struct {
	Services []RelayServiceEntry `json:"services"`
}

// RelayAdResponse is always empty; kept as a named type so handlers encode
// a consistent `{}` rather than a bare nil.
type RelayAdResponse struct{}

// DiscoverRequest is the discover/discoverAffine query body.
type DiscoverRequest struct {
	ServiceName string `json:"serviceName"`
}

// DiscoveredPeer is one entry of a discover response, Thrift's
// {ip: {ipv4: i32}, port: i32} shape translated to JSON field names.
type DiscoveredPeer struct {
	IPv4 uint32 `json:"ipv4"`
	Port uint16 `json:"port"`
}

// DiscoverResponse is the discover/discoverAffine success response.
type DiscoverResponse struct {
	Peers []DiscoveredPeer `json:"peers"`
}

// Error codes named in §6 for the discover endpoint specifically (distinct
// from the admission-path WireCode set in package dispatch, since discover
// has its own exception shape per the Thrift IDL it distills).
const (
	ErrInvalidServiceName = "invalidServiceName"
	ErrNoPeersAvailable   = "noPeersAvailable"
)
