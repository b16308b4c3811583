package dispatch

import (
	"encoding/json"
	"net/http"
)

// DebugHandler is the read-only introspection surface named in SPEC_FULL's
// supplemented features and referenced by spec §8 S5 ("Querying the
// control endpoint lists this circuit"). It mutates nothing: every route
// serializes a snapshot of live dispatcher state to JSON, whatever the
// request method.
type DebugHandler struct {
	d *Dispatcher
}

// NewDebugHandler wraps a Dispatcher for the control surface.
func NewDebugHandler(d *Dispatcher) *DebugHandler {
	return &DebugHandler{d: d}
}

// ServeHTTP dispatches on path: /debug/circuits and /debug/channels. There
// is no separate known-peers route; any other path is a 404.
func (h *DebugHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/debug/circuits":
		h.writeJSON(w, h.d.circuits.Snapshot())
	case "/debug/channels":
		h.writeJSON(w, h.channelSnapshots())
	default:
		http.NotFound(w, r)
	}
}

type channelSnapshot struct {
	ServiceName string   `json:"serviceName"`
	Mode        string   `json:"mode"`
	Peers       []string `json:"peers"`
}

func (h *DebugHandler) channelSnapshots() []channelSnapshot {
	h.d.mu.RLock()
	services := make([]string, 0, len(h.d.channels))
	for sn := range h.d.channels {
		services = append(services, sn)
	}
	h.d.mu.RUnlock()

	out := make([]channelSnapshot, 0, len(services))
	for _, sn := range services {
		ch, ok := h.d.Channel(sn)
		if !ok {
			continue
		}
		out = append(out, channelSnapshot{
			ServiceName: sn,
			Mode:        ch.Mode().String(),
			Peers:       ch.Peers(),
		})
	}
	return out
}

func (h *DebugHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
