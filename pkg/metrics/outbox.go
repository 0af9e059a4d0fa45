package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outbox publish results.
const (
	OutboxPublished    = "published"
	OutboxDuplicate    = "duplicate"
	OutboxRetry        = "retry"
	OutboxDeadLettered = "dead_lettered"
)

// OutboxMetrics counts relay outcomes per event type and how long rows wait
// before they reach the broker.
type OutboxMetrics struct {
	events *prometheus.CounterVec
	lag    prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "topup_outbox_events_total",
			Help: "Outbox rows handled by the publisher, by event type and result.",
		}, []string{"event_type", "result"}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "topup_outbox_publish_lag_seconds",
			Help:    "Time from outbox insert to successful publish.",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		}),
	}
	reg.MustRegister(m.events, m.lag)
	return m
}

// Observe records one row outcome. Lag is only tracked for published rows.
func (m *OutboxMetrics) Observe(eventType, result string, createdAt time.Time) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), result).Inc()
	if result == OutboxPublished && !createdAt.IsZero() {
		m.lag.Observe(time.Since(createdAt).Seconds())
	}
}
