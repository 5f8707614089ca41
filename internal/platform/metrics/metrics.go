package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	RequestsSubmitted  *prometheus.CounterVec
	CallbacksReceived  *prometheus.CounterVec
	Polls              *prometheus.CounterVec
	PinsGenerated      prometheus.Counter
	ExternalCallErrors prometheus.Counter
	ExternalLatency    prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		RequestsSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcrelay_requests_submitted_total",
			Help: "Total requests submitted to the VC Client API, labeled by flow",
		}, []string{"flow"}),
		CallbacksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcrelay_callbacks_received_total",
			Help: "Total callbacks received from the VC Client API, labeled by code",
		}, []string{"code"}),
		Polls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vcrelay_polls_total",
			Help: "Total status polls, labeled by outcome (hit or not_ready)",
		}, []string{"outcome"}),
		PinsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcrelay_pins_generated_total",
			Help: "Total issuance pin codes generated",
		}),
		ExternalCallErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vcrelay_external_call_errors_total",
			Help: "Total failed calls to the VC Client API",
		}),
		ExternalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vcrelay_external_latency_seconds",
			Help:    "Latency of outbound VC Client API calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// IncRequestSubmitted increments the submitted-request counter for a flow
// ("issuance" or "presentation").
func (m *Metrics) IncRequestSubmitted(flow string) {
	m.RequestsSubmitted.WithLabelValues(flow).Inc()
}

// IncCallbackReceived increments the callback counter for a callback code.
func (m *Metrics) IncCallbackReceived(code string) {
	m.CallbacksReceived.WithLabelValues(code).Inc()
}

// IncPoll increments the poll counter for an outcome.
func (m *Metrics) IncPoll(outcome string) {
	m.Polls.WithLabelValues(outcome).Inc()
}

// IncPinGenerated increments the pin counter.
func (m *Metrics) IncPinGenerated() {
	m.PinsGenerated.Inc()
}

// IncExternalCallError increments the failed external call counter.
func (m *Metrics) IncExternalCallError() {
	m.ExternalCallErrors.Inc()
}

// ObserveExternalLatency records the latency of an outbound call.
func (m *Metrics) ObserveExternalLatency(d time.Duration) {
	m.ExternalLatency.Observe(d.Seconds())
}
