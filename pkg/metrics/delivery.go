package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics tracks provider traffic and money-safety failures.
type DeliveryMetrics struct {
	dispatches     *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	callbacks      *prometheus.CounterVec
	refundFailures prometheus.Counter
}

// NewDeliveryMetrics registers the delivery metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	if reg == nil {
		return &DeliveryMetrics{}
	}
	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_delivery_dispatch_total",
		Help: "Provider submissions by result.",
	}, []string{"result"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_delivery_attempt_resolved_total",
		Help: "Delivery attempts resolved by outcome and source.",
	}, []string{"outcome", "source"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topup_provider_callbacks_total",
		Help: "Inbound provider callbacks by handling result.",
	}, []string{"result"})
	refundFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "topup_refund_failures_total",
		Help: "Refunds that could not be written and need operator attention.",
	})
	reg.MustRegister(dispatches, resolutions, callbacks, refundFailures)
	return &DeliveryMetrics{
		dispatches:     dispatches,
		resolutions:    resolutions,
		callbacks:      callbacks,
		refundFailures: refundFailures,
	}
}

// IncDispatch counts one provider submission, e.g. accepted, rejected or unavailable.
func (d *DeliveryMetrics) IncDispatch(result string) {
	if d == nil || d.dispatches == nil {
		return
	}
	d.dispatches.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncResolution counts an attempt reaching a terminal outcome.
func (d *DeliveryMetrics) IncResolution(outcome, source string) {
	if d == nil || d.resolutions == nil {
		return
	}
	d.resolutions.WithLabelValues(normalizeLabel(outcome), normalizeLabel(source)).Inc()
}

// IncCallback counts an inbound webhook by how it was handled.
func (d *DeliveryMetrics) IncCallback(result string) {
	if d == nil || d.callbacks == nil {
		return
	}
	d.callbacks.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncRefundFailure counts a refund that rolled back.
func (d *DeliveryMetrics) IncRefundFailure() {
	if d == nil || d.refundFailures == nil {
		return
	}
	d.refundFailures.Inc()
}
