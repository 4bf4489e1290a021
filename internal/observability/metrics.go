package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for TAP client traffic.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	polls    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tap",
			Name:      "client_requests_total",
			Help:      "TAP HTTP requests by status code and method.",
		}, []string{"code", "method"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tap",
			Name:      "client_request_duration_seconds",
			Help:      "TAP HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tap",
			Name:      "client_job_polls_total",
			Help:      "Async job status polls by observed phase.",
		}, []string{"phase"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.polls} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// InstrumentTransport wraps next so every round trip is counted and timed.
// A nil Metrics returns next unchanged.
func (m *Metrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if m == nil {
		return next
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperCounter(m.requests,
		promhttp.InstrumentRoundTripperDuration(m.duration, next))
}

// ObservePoll counts one status poll.
func (m *Metrics) ObservePoll(phase string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(phase).Inc()
}
