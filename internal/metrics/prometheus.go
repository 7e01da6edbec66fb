// Package metrics defines the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Metrics groups the control plane's collectors. A nil *Metrics is valid and records nothing,
// so services can be built without a registry in tests.
type Metrics struct {
	LoginsTotal          *prometheus.CounterVec
	TokenRefreshesTotal  *prometheus.CounterVec
	UsersRegisteredTotal prometheus.Counter
	ProvisionsTotal      *prometheus.CounterVec
	PortRetriesTotal     prometheus.Counter
	IntentRequestsTotal  *prometheus.CounterVec
	IntentLowConfidence  prometheus.Counter
	IntentLatency        prometheus.Histogram
	NLUTokensTotal       prometheus.Counter
}

// New creates the collectors and registers them on reg. Registration failures are logged
// and the collector is still usable.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homestack_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		TokenRefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homestack_token_refreshes_total",
			Help: "Refresh token exchanges by outcome.",
		}, []string{"outcome"}),
		UsersRegisteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homestack_users_registered_total",
			Help: "Accounts created.",
		}),
		ProvisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homestack_instance_provisions_total",
			Help: "Instance provisioning attempts by outcome.",
		}, []string{"outcome"}),
		PortRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homestack_instance_port_retries_total",
			Help: "Port reservations lost to a concurrent provision and retried.",
		}),
		IntentRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homestack_intent_requests_total",
			Help: "Intent requests by final status.",
		}, []string{"status"}),
		IntentLowConfidence: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homestack_intent_low_confidence_total",
			Help: "Intent results below the confidence threshold.",
		}),
		IntentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "homestack_intent_latency_seconds",
			Help:    "End-to-end intent pipeline latency.",
			Buckets: prometheus.DefBuckets,
		}),
		NLUTokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "homestack_nlu_tokens_total",
			Help: "Tokens consumed by the NLU backend.",
		}),
	}
	if reg == nil {
		return m
	}
	for _, c := range []prometheus.Collector{
		m.LoginsTotal, m.TokenRefreshesTotal, m.UsersRegisteredTotal,
		m.ProvisionsTotal, m.PortRetriesTotal,
		m.IntentRequestsTotal, m.IntentLowConfidence, m.IntentLatency, m.NLUTokensTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("metrics: failed to register collector")
		}
	}
	return m
}

func (m *Metrics) Login(outcome string) {
	if m != nil {
		m.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Refresh(outcome string) {
	if m != nil {
		m.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Registered() {
	if m != nil {
		m.UsersRegisteredTotal.Inc()
	}
}

func (m *Metrics) Provision(outcome string) {
	if m != nil {
		m.ProvisionsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) PortRetry() {
	if m != nil {
		m.PortRetriesTotal.Inc()
	}
}

// Intent records one finished intent request.
func (m *Metrics) Intent(status string, seconds float64, lowConfidence bool, tokens int) {
	if m == nil {
		return
	}
	m.IntentRequestsTotal.WithLabelValues(status).Inc()
	m.IntentLatency.Observe(seconds)
	if lowConfidence {
		m.IntentLowConfidence.Inc()
	}
	if tokens > 0 {
		m.NLUTokensTotal.Add(float64(tokens))
	}
}
