package cnwcommercial

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the commercial layer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	verifications     *prometheus.CounterVec
	endpointFallbacks *prometheus.CounterVec
	outboundRequests  *prometheus.CounterVec
	droppedEvents     prometheus.Counter
}

// NewMetrics registers the commercial collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		verifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cnw_commercial_verifications_total",
				Help: "Commercial request verifications by outcome and rejection reason",
			},
			[]string{"outcome", "reason"},
		),
		endpointFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cnw_commercial_endpoint_fallbacks_total",
				Help: "Endpoint resolutions that fell back to the public URL",
			},
			[]string{"server_type", "cause"},
		),
		outboundRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cnw_commercial_outbound_requests_total",
				Help: "Outbound requests to commercial backends by service and outcome",
			},
			[]string{"service", "outcome"},
		),
		droppedEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "cnw_commercial_security_events_dropped_total",
			Help: "Suspicious-request events not persisted because the queue was full",
		}),
	}
}

// DroppedEvents returns the counter to hand to securitylog.WithDroppedCounter.
// It returns nil for a nil *Metrics.
func (m *Metrics) DroppedEvents() prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.droppedEvents
}

func (m *Metrics) accepted() {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues("accepted", "").Inc()
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues("rejected", reason).Inc()
}

func (m *Metrics) fallback(st ServerType, cause string) {
	if m == nil {
		return
	}
	m.endpointFallbacks.WithLabelValues(string(st), cause).Inc()
}

func (m *Metrics) outbound(st ServerType, outcome string) {
	if m == nil {
		return
	}
	m.outboundRequests.WithLabelValues(string(st), outcome).Inc()
}
