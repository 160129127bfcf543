package request

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	latency  *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

// NewMetrics registers HTTP metrics with reg, or the default registerer when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "credanchor_http_request_duration_seconds",
			Help: "Latency of HTTP requests by route pattern",
			// Issuance can wait on block confirmations for tens of seconds.
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"method", "route"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credanchor_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) observe(method, route, status string, d time.Duration) {
	m.latency.WithLabelValues(method, route).Observe(d.Seconds())
	m.requests.WithLabelValues(method, route, status).Inc()
}
