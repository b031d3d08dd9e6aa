package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for login flows. A nil *Metrics is a
// valid no-op receiver, so instrumentation stays optional for host apps
// that do not run a registry.
type Metrics struct {
	// Login attempts by flow and terminal outcome
	LoginAttempts *prometheus.CounterVec

	// Authorization-code exchange latency
	ExchangeLatency prometheus.Histogram

	// Token refreshes by outcome
	TokenRefreshes *prometheus.CounterVec
}

// NewMetrics registers the SDK metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rides_auth_login_attempts_total",
			Help: "Total login attempts by flow and terminal outcome",
		}, []string{"flow", "outcome"}),

		ExchangeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rides_auth_code_exchange_seconds",
			Help:    "Duration of authorization-code exchanges",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rides_auth_token_refreshes_total",
			Help: "Total token refreshes by outcome",
		}, []string{"outcome"}),
	}
}

// RecordLoginAttempt counts a finished attempt.
func (m *Metrics) RecordLoginAttempt(flow FlowType, outcome string) {
	if m != nil {
		m.LoginAttempts.WithLabelValues(string(flow), outcome).Inc()
	}
}

// ObserveExchangeLatency records the duration of a code exchange.
func (m *Metrics) ObserveExchangeLatency(d time.Duration) {
	if m != nil {
		m.ExchangeLatency.Observe(d.Seconds())
	}
}

// RecordTokenRefresh counts a refresh by outcome.
func (m *Metrics) RecordTokenRefresh(outcome string) {
	if m != nil {
		m.TokenRefreshes.WithLabelValues(outcome).Inc()
	}
}
