package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omgolab/bahnrouter/circuit"
)

// PrometheusSink is the Sink implementation the router runs with in
// production: every series below is registered against a single registry
// at construction and scraped over the usual /metrics endpoint.
type PrometheusSink struct {
	servicePeerCount          *prometheus.GaugeVec
	serviceConnectedPeerCount *prometheus.GaugeVec
	rateLimiterRps            *prometheus.GaugeVec
	rateLimiterLimit          *prometheus.GaugeVec
	circuitHealthy            *prometheus.GaugeVec
	relayFanoutTotal          *prometheus.CounterVec
}

// NewPrometheusSink registers the router's metric families against reg and
// returns a ready-to-use Sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		servicePeerCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bahnrouter",
			Name:      "service_peer_count",
			Help:      "Number of peers held by a service channel (workers in exit mode, exits in forward mode).",
		}, []string{"service"}),
		serviceConnectedPeerCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bahnrouter",
			Name:      "service_connected_peer_count",
			Help:      "Partial-affinity connected peer subset size for a service.",
		}, []string{"service"}),
		rateLimiterRps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bahnrouter",
			Name:      "rate_limiter_rps",
			Help:      "Current summed rps for the total or a named-service rate-limit counter.",
		}, []string{"service"}),
		rateLimiterLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bahnrouter",
			Name:      "rate_limiter_limit",
			Help:      "Currently configured rate-limit ceiling for the total or a named-service counter.",
		}, []string{"service"}),
		circuitHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bahnrouter",
			Name:      "circuit_healthy",
			Help:      "1 if the (service,caller,endpoint) circuit is healthy, 0 otherwise.",
		}, []string{"service", "caller", "endpoint"}),
		relayFanoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bahnrouter",
			Name:      "relay_fanout_total",
			Help:      "Relay-ad/relay-unad fan-out attempts by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}

	reg.MustRegister(
		s.servicePeerCount,
		s.serviceConnectedPeerCount,
		s.rateLimiterRps,
		s.rateLimiterLimit,
		s.circuitHealthy,
		s.relayFanoutTotal,
	)

	return s
}

func (s *PrometheusSink) ServicePeerCount(service string, count int) {
	s.servicePeerCount.WithLabelValues(service).Set(float64(count))
}

func (s *PrometheusSink) ServiceConnectedPeerCount(service string, count int) {
	s.serviceConnectedPeerCount.WithLabelValues(service).Set(float64(count))
}

func (s *PrometheusSink) RateLimiterRps(service string, rps float64) {
	s.rateLimiterRps.WithLabelValues(service).Set(rps)
}

func (s *PrometheusSink) RateLimiterLimit(service string, limit float64) {
	s.rateLimiterLimit.WithLabelValues(service).Set(limit)
}

func (s *PrometheusSink) CircuitStateChange(c *circuit.Circuit, from, to circuit.State) {
	v := 0.0
	if to == circuit.Healthy {
		v = 1.0
	}
	s.circuitHealthy.WithLabelValues(c.ServiceName, c.CallerName, c.EndpointName).Set(v)
}

func (s *PrometheusSink) RelayFanout(kind string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	s.relayFanoutTotal.WithLabelValues(kind, outcome).Inc()
}
