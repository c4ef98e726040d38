package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	TokensTotal       *prometheus.CounterVec
	UpstreamAttempts  *prometheus.CounterVec
	AccountCooldowns  prometheus.Counter
	TokenRefreshes    *prometheus.CounterVec
	VaultMigrations   *prometheus.CounterVec
	RateLimitHits     prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "antigravity_request_total",
			Help: "Total number of client requests handled by the gateway.",
		}, []string{"dialect", "model", "status"}),

		RequestDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "antigravity_request_duration_ms",
			Help:    "Total request duration in milliseconds (including upstream latency).",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"dialect", "model"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "antigravity_tokens_total",
			Help: "Total tokens reported by the upstream.",
		}, []string{"model", "direction"}),

		UpstreamAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "antigravity_upstream_attempts_total",
			Help: "Upstream call attempts by outcome (ok, network_error, server_error, rate_limited, client_error).",
		}, []string{"outcome"}),

		AccountCooldowns: f.NewCounter(prometheus.CounterOpts{
			Name: "antigravity_account_cooldowns_total",
			Help: "Accounts placed in cool-down after a rate-limit or permission failure.",
		}),

		TokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "antigravity_token_refreshes_total",
			Help: "Access token refreshes by outcome (ok, failed, revoked).",
		}, []string{"outcome"}),

		VaultMigrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "antigravity_vault_migrations_total",
			Help: "Stored credentials re-encrypted from a fallback key source.",
		}, []string{"from"}),

		RateLimitHits: f.NewCounter(prometheus.CounterOpts{
			Name: "antigravity_rate_limit_hits_total",
			Help: "Client requests rejected by the per-key rate limit.",
		}),
	}
}

// RecordRequest records metrics for a completed client request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(labels.Dialect, labels.Model, labels.Status).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Dialect, labels.Model).Observe(labels.DurationMs)

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "prompt").Add(float64(labels.PromptTokens))
	}
	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "completion").Add(float64(labels.CompletionTokens))
	}
}

func (m *Metrics) RecordUpstreamAttempt(outcome string) {
	if m == nil {
		return
	}
	m.UpstreamAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordCooldown() {
	if m == nil {
		return
	}
	m.AccountCooldowns.Inc()
}

func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordVaultMigration(from string) {
	if m == nil {
		return
	}
	m.VaultMigrations.WithLabelValues(from).Inc()
}

func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHits.Inc()
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Dialect          string
	Model            string
	Status           string
	DurationMs       float64
	PromptTokens     int
	CompletionTokens int
}
