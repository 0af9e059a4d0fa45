package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics counts API requests by route pattern rather than raw path so
// order and delivery ids do not explode the label space.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		return &HTTPMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_http_requests_total",
		Help: "API requests by method, route and status class.",
	}, []string{"method", "route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "topup_http_request_duration_seconds",
		Help:    "API request latency by method and route.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route"})
	reg.MustRegister(requests, latency)
	return &HTTPMetrics{requests: requests, latency: latency}
}

// Observe records one finished request.
func (h *HTTPMetrics) Observe(method, route string, status int, took time.Duration) {
	if h == nil || h.requests == nil {
		return
	}
	route = normalizeLabel(route)
	h.requests.WithLabelValues(method, route, statusClass(status)).Inc()
	h.latency.WithLabelValues(method, route).Observe(took.Seconds())
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
