package dispatch

// Request is the admission-path view of one inbound call: just the headers
// and service name the pipeline in §4.2 inspects. The request/response
// bodies themselves belong to the transport collaborator.
type Request struct {
	// ServiceName is the declared destination, before routing-delegate
	// override.
	ServiceName string
	// CallerName is the `cn` header; empty for anonymous callers.
	CallerName string
	// RoutingDelegate is the `rd` header, overriding the effective
	// destination for the whole admission path (§4.2 step 1).
	RoutingDelegate string
	// EndpointName identifies the specific RPC within the service, used as
	// the third circuit key.
	EndpointName string
}

// EffectiveService returns the destination name admission checks use: the
// routing delegate if set, else the declared service name.
func (r Request) EffectiveService() string {
	if r.RoutingDelegate != "" {
		return r.RoutingDelegate
	}
	return r.ServiceName
}
