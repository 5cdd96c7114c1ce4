// Package metrics registers the Prometheus collectors swauth exposes at
// /metrics, grounded on the teacher's cmd/dex/serve.go registry wiring
// (Go/process collectors plus a handful of domain counters/histograms,
// rather than a framework-provided middleware).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors every request-handling path reports to.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	TokenValidateSeconds prometheus.Histogram
	BackingRequestsTotal *prometheus.CounterVec
}

// New registers and returns the collector set against reg, along with the
// standard Go runtime and process collectors the teacher always registers
// alongside its own.
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swauth_requests_total",
			Help: "Total HTTP requests handled, by outcome.",
		}, []string{"outcome"}),
		TokenValidateSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "swauth_token_validate_duration_seconds",
			Help:    "Latency of token validation, cache hit or backing-store lookup.",
			Buckets: prometheus.DefBuckets,
		}),
		BackingRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swauth_backing_requests_total",
			Help: "Total requests issued to the backing object-storage cluster, by method and status.",
		}, []string{"method", "status"}),
	}

	collectors := []prometheus.Collector{
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.TokenValidateSeconds,
		m.BackingRequestsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Outcome classifies a response status into the label RequestsTotal uses.
func Outcome(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "success"
	case status == 401 || status == 403:
		return "denied"
	case status >= 400 && status < 500:
		return "client_error"
	case status >= 500:
		return "server_error"
	default:
		return "other"
	}
}
