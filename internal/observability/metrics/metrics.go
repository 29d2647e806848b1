package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for inbound webhook flows.
type WebhookMetrics struct {
	inboundTotal      *prometheus.CounterVec
	outboundTotal     *prometheus.CounterVec
	replyFallback     *prometheus.CounterVec
	webhookLatency    *prometheus.HistogramVec
	completionLatency prometheus.Histogram
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lawnloop",
			Subsystem: "webhooks",
			Name:      "inbound_total",
			Help:      "Total inbound provider webhooks",
		}, []string{"provider", "outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lawnloop",
			Subsystem: "webhooks",
			Name:      "outbound_send_total",
			Help:      "Total outbound SMS sends",
		}, []string{"status"}),
		replyFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lawnloop",
			Subsystem: "reply",
			Name:      "fallback_total",
			Help:      "Replies served from the deterministic fallback path",
		}, []string{"channel"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lawnloop",
			Subsystem: "webhooks",
			Name:      "latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		completionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lawnloop",
			Subsystem: "reply",
			Name:      "completion_latency_seconds",
			Help:      "Latency of completion service calls",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.replyFallback, m.webhookLatency, m.completionLatency)
	return m
}

func (m *WebhookMetrics) ObserveInbound(provider, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *WebhookMetrics) ObserveOutbound(status string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status).Inc()
}

func (m *WebhookMetrics) ObserveFallback(channel string) {
	if m == nil {
		return
	}
	m.replyFallback.WithLabelValues(channel).Inc()
}

func (m *WebhookMetrics) ObserveWebhookLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *WebhookMetrics) ObserveCompletionLatency(seconds float64) {
	if m == nil {
		return
	}
	m.completionLatency.Observe(seconds)
}
