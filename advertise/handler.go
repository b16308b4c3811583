package advertise

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	glog "github.com/omgolab/go-commons/pkg/log"

	"github.com/omgolab/bahnrouter/config"
	"github.com/omgolab/bahnrouter/dispatch"
)

// errNoExits is returned when a forwarded discover has no exit to ask,
// itself surfaced to the caller as noPeersAvailable.
var errNoExits = errors.New("advertise: no exits available to forward discover to")

// RingView narrows ring.View to the lookup the ad fan-out needs.
type RingView interface {
	ExitsFor(service string) []string
}

// Forwarder is the external collaborator used to forward a discover call
// to one exit's discoverAffine endpoint (§4.7). package transport supplies
// the concrete implementation, dialing the exit's advertise service over
// plain JSON; package advertise only decides which exit to ask and with
// what deadline.
type Forwarder interface {
	DiscoverAffine(ctx context.Context, exitHostPort, serviceName string) ([]DiscoveredPeer, error)
}

// Handler implements the ad/unad/relay-ad/relay-unad/discover endpoints
// from §4.7, mounted the same way pkg/gateway.SetupHandler mounts its own
// routes on an http.ServeMux.
type Handler struct {
	log        glog.Logger
	dispatcher *dispatch.Dispatcher
	ring       RingView
	conn       dispatch.Connector
	forwarder  Forwarder

	maxRelayAdAttempts int
	relayAdRetryTime   time.Duration
	relayAdTimeout     time.Duration
	discoverTimeout    time.Duration
}

// New builds a Handler bound to a Dispatcher, the ring view used for the
// ad fan-out's exit lookup, and the Connector used to send relay-ad/
// relay-unad to peer routers.
func New(log glog.Logger, dispatcher *dispatch.Dispatcher, ring RingView, conn dispatch.Connector, forwarder Forwarder) *Handler {
	return &Handler{
		log:                log,
		dispatcher:         dispatcher,
		ring:               ring,
		conn:               conn,
		forwarder:          forwarder,
		maxRelayAdAttempts: config.DefaultMaxRelayAdTries,
		relayAdRetryTime:   config.DefaultRelayAdRetryWait,
		relayAdTimeout:     config.DefaultRelayAdTimeout,
		discoverTimeout:    config.DefaultDiscoverTimeout,
	}
}

// Mux returns the ServeMux routing the six endpoints named in §4.7/§6.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ad", h.handleAd(false))
	mux.HandleFunc("/unad", h.handleAd(true))
	mux.HandleFunc("/relay-ad", h.handleRelayAd(false))
	mux.HandleFunc("/relay-unad", h.handleRelayAd(true))
	mux.HandleFunc("/discover", h.handleDiscover(false))
	mux.HandleFunc("/discoverAffine", h.handleDiscover(true))
	return mux
}

// handleAd implements `ad`/`unad`: stamp each service's hostPort from the
// connection's remote address, bucket by exit host-port, and fan out a
// relay-ad per exit without waiting for the fan-out to finish (§4.7: "soft
// best-effort").
func (h *Handler) handleAd(unadvertise bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		hostPort := r.RemoteAddr

		byExit := make(map[string][]RelayServiceEntry)
		for _, svc := range req.Services {
			exits := h.ring.ExitsFor(svc.ServiceName)
			for _, exit := range exits {
				byExit[exit] = append(byExit[exit], RelayServiceEntry{
					ServiceName: svc.ServiceName,
					HostPort:    hostPort,
					Cost:        svc.Cost,
				})
			}
		}

		for exit, entries := range byExit {
			go h.sendRelay(context.Background(), exit, unadvertise, entries)
		}

		w.Header().Set("Content-Type", "application/json")
		if unadvertise {
			_ = json.NewEncoder(w).Encode(struct{}{})
			return
		}
		_ = json.NewEncoder(w).Encode(AdResponse{ConnectionCount: len(byExit)})
	}
}

// sendRelay implements §4.7's sendRelay: a short-timeout, no-retry-flagged
// RPC to the target exit, retried up to maxRelayAdAttempts on network/
// timeout classifications, logged and swallowed on anything else. The
// outer ad/unad response has already been written by the time this runs.
func (h *Handler) sendRelay(ctx context.Context, hostPort string, unadvertise bool, entries []RelayServiceEntry) {
	for attempt := 1; attempt <= h.maxRelayAdAttempts+1; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, h.relayAdTimeout)
		services := make([]dispatch.ServiceAd, len(entries))
		for i, e := range entries {
			services[i] = dispatch.ServiceAd{ServiceName: e.ServiceName, HostPort: e.HostPort, Cost: e.Cost}
		}
		err := h.conn.RelayAd(callCtx, hostPort, unadvertise, services)
		cancel()
		if err == nil {
			return
		}

		if !isRetryable(err) {
			h.log.Warn("relay-ad failed, not retrying", glog.LogFields{"peer": hostPort, "error": err.Error()})
			return
		}

		if attempt > h.maxRelayAdAttempts {
			h.log.Error("relay-ad exhausted retries", err)
			return
		}
		time.Sleep(h.relayAdRetryTime)
	}
}

// isRetryable classifies whether an error from the transport warrants a
// sendRelay retry (§4.7: "On network/timeout error, retry..."; "on any
// other error, log ... and succeed silently"). The transport collaborator
// is out of scope per §1, so this treats any error reaching here as
// network/timeout class: the Connector boundary doesn't currently
// distinguish finer classifications, and doing so would require reaching
// into transport internals the dispatch core deliberately doesn't own.
func isRetryable(err error) bool {
	return err != nil
}

// handleRelayAd implements `relay-ad`/`relay-unad`: for each service entry,
// call refreshServicePeer (or RemovePeerFromService for the unad mirror).
func (h *Handler) handleRelayAd(unadvertise bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RelayAdRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		for _, svc := range req.Services {
			var err error
			if unadvertise {
				err = h.dispatcher.RemovePeerFromService(r.Context(), svc.ServiceName, svc.HostPort)
			} else {
				err = h.dispatcher.RefreshServicePeer(r.Context(), svc.ServiceName, svc.HostPort)
			}
			if err != nil {
				h.log.Warn("relay-ad entry failed", glog.LogFields{"service": svc.ServiceName, "hostPort": svc.HostPort, "error": err.Error()})
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RelayAdResponse{})
	}
}

// handleDiscover implements §4.7's discover(serviceName): forward to an
// exit when this router is in forward mode for the service (unless
// affine, which never forwards again), else collect the service channel's
// peers and encode them.
func (h *Handler) handleDiscover(affine bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DiscoverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		if req.ServiceName == "" {
			writeDiscoverError(w, ErrInvalidServiceName)
			return
		}

		ch, ok := h.dispatcher.Channel(req.ServiceName)
		isForward := ok && ch.Mode() == dispatch.Forward
		callerIsRouter := r.Header.Get("cn") == config.ForwardedCallerName

		if !affine && isForward && !callerIsRouter {
			peers, err := h.forwardDiscover(r.Context(), req.ServiceName)
			if err != nil {
				writeDiscoverError(w, ErrNoPeersAvailable)
				return
			}
			writeDiscoverResponse(w, peers)
			return
		}

		if !ok {
			writeDiscoverError(w, ErrNoPeersAvailable)
			return
		}

		peers := ch.Peers()
		if len(peers) == 0 {
			writeDiscoverError(w, ErrNoPeersAvailable)
			return
		}

		encoded := make([]DiscoveredPeer, 0, len(peers))
		for _, hp := range peers {
			p, err := EncodeHostPort(hp)
			if err != nil {
				h.log.Warn("discover: skipping unencodable peer", glog.LogFields{"peer": hp, "error": err.Error()})
				continue
			}
			encoded = append(encoded, p)
		}
		if len(encoded) == 0 {
			writeDiscoverError(w, ErrNoPeersAvailable)
			return
		}
		writeDiscoverResponse(w, encoded)
	}
}

// forwardDiscover forwards to any exit via discoverAffine with a bounded
// timeout, never re-forwarding (the "cn: hyperbahn" header signals the
// receiving exit not to forward again, per §6's header contract).
func (h *Handler) forwardDiscover(ctx context.Context, serviceName string) ([]DiscoveredPeer, error) {
	exits := h.ring.ExitsFor(serviceName)
	if len(exits) == 0 {
		return nil, errNoExits
	}
	ctx, cancel := context.WithTimeout(ctx, h.discoverTimeout)
	defer cancel()
	return h.forwarder.DiscoverAffine(ctx, exits[0], serviceName)
}

func writeDiscoverResponse(w http.ResponseWriter, peers []DiscoveredPeer) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(DiscoverResponse{Peers: peers})
}

func writeDiscoverError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
