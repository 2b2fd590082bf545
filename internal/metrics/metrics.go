// Package metrics exposes Prometheus counters for credits, checkouts, quotes and webhooks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is nil-safe: a nil *Metrics or one built without a registerer records nothing.
type Metrics struct {
	creditsConsumed  *prometheus.CounterVec
	creditsDenied    prometheus.Counter
	creditsPurchased *prometheus.CounterVec
	checkouts        *prometheus.CounterVec
	quotes           *prometheus.CounterVec
	quoteDuration    prometheus.Histogram
	webhooks         *prometheus.CounterVec
	requests         *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		creditsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storybook_credits_consumed_total",
			Help: "Creation saves granted, by credit source.",
		}, []string{"source"}),
		creditsDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storybook_credits_denied_total",
			Help: "Creation saves denied for lack of credits.",
		}),
		creditsPurchased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storybook_credits_purchased_total",
			Help: "Credits added by confirmed pack purchases.",
		}, []string{"pack"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storybook_checkout_sessions_total",
			Help: "Hosted checkout sessions requested, by kind and result.",
		}, []string{"kind", "result"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storybook_shipping_quotes_total",
			Help: "Shipping quote requests, by result.",
		}, []string{"result"}),
		quoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storybook_shipping_quote_duration_seconds",
			Help:    "Latency of print provider shipping quotes.",
			Buckets: prometheus.DefBuckets,
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storybook_webhooks_total",
			Help: "Inbound webhooks, by source and result.",
		}, []string{"source", "result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storybook_http_requests_total",
			Help: "HTTP requests served, by route pattern and status class.",
		}, []string{"route", "status"}),
	}
	reg.MustRegister(m.creditsConsumed, m.creditsDenied, m.creditsPurchased, m.checkouts, m.quotes, m.quoteDuration, m.webhooks, m.requests)
	return m
}

func (m *Metrics) CreditConsumed(source string) {
	if m == nil || m.creditsConsumed == nil {
		return
	}
	m.creditsConsumed.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) CreditDenied() {
	if m == nil || m.creditsDenied == nil {
		return
	}
	m.creditsDenied.Inc()
}

func (m *Metrics) CreditsPurchased(pack string, credits int) {
	if m == nil || m.creditsPurchased == nil {
		return
	}
	m.creditsPurchased.WithLabelValues(normalizeLabel(pack)).Add(float64(credits))
}

func (m *Metrics) Checkout(kind string, err error) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(kind), result(err)).Inc()
}

func (m *Metrics) Quote(duration time.Duration, err error) {
	if m == nil || m.quotes == nil {
		return
	}
	m.quotes.WithLabelValues(result(err)).Inc()
	m.quoteDuration.Observe(duration.Seconds())
}

func (m *Metrics) Webhook(source, outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) Request(route string, status int) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.WithLabelValues(normalizeLabel(route), statusClass(status)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
