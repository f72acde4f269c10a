package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DomainMetrics counts outcomes of the fulfillment and billing paths.
// A nil *DomainMetrics is valid and records nothing.
type DomainMetrics struct {
	acceptance  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	codeChecks  *prometheus.CounterVec
	webhooks    *prometheus.CounterVec
	extensions  *prometheus.CounterVec
	published   *prometheus.CounterVec
}

// NewDomainMetrics registers the domain counters on the provided registerer.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	if reg == nil {
		return &DomainMetrics{}
	}
	m := &DomainMetrics{
		acceptance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_acceptance_total",
			Help: "Order acceptance attempts by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Committed order status transitions by target status.",
		}, []string{"to"}),
		codeChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_code_validations_total",
			Help: "Delivery code validation attempts by outcome.",
		}, []string{"outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stripe_webhooks_total",
			Help: "Stripe webhook deliveries by outcome.",
		}, []string{"outcome"}),
		extensions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_extensions_total",
			Help: "Credit extensions by source.",
		}, []string{"source"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox publish attempts by topic and outcome.",
		}, []string{"topic", "outcome"}),
	}
	reg.MustRegister(m.acceptance, m.transitions, m.codeChecks, m.webhooks, m.extensions, m.published)
	return m
}

func (m *DomainMetrics) IncAcceptance(outcome string) {
	if m == nil || m.acceptance == nil {
		return
	}
	m.acceptance.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *DomainMetrics) IncTransition(to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(to)).Inc()
}

func (m *DomainMetrics) IncCodeValidation(outcome string) {
	if m == nil || m.codeChecks == nil {
		return
	}
	m.codeChecks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *DomainMetrics) IncWebhook(outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *DomainMetrics) IncCreditExtension(source string) {
	if m == nil || m.extensions == nil {
		return
	}
	m.extensions.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *DomainMetrics) IncOutboxPublish(topic, outcome string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(topic), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
