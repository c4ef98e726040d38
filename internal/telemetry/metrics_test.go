package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	if m.RequestTotal == nil {
		t.Error("RequestTotal should not be nil")
	}
	if m.RequestDurationMs == nil {
		t.Error("RequestDurationMs should not be nil")
	}
	if m.TokensTotal == nil {
		t.Error("TokensTotal should not be nil")
	}
	if m.UpstreamAttempts == nil {
		t.Error("UpstreamAttempts should not be nil")
	}
	if m.AccountCooldowns == nil {
		t.Error("AccountCooldowns should not be nil")
	}
	if m.TokenRefreshes == nil {
		t.Error("TokenRefreshes should not be nil")
	}
	if m.VaultMigrations == nil {
		t.Error("VaultMigrations should not be nil")
	}
	if m.RateLimitHits == nil {
		t.Error("RateLimitHits should not be nil")
	}
}

func TestRecordRequest(t *testing.T) {
	// Use a fresh registry to avoid polluting the default one
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRequest(RequestLabels{
		Dialect:          "openai",
		Model:            "gpt-4o",
		Status:           "200",
		DurationMs:       150,
		PromptTokens:     100,
		CompletionTokens: 50,
	})

	counter, err := m.RequestTotal.GetMetricWithLabelValues("openai", "gpt-4o", "200")
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	if v := counterValue(t, counter); v != 1 {
		t.Errorf("expected request count 1, got %v", v)
	}

	promptCounter, _ := m.TokensTotal.GetMetricWithLabelValues("gpt-4o", "prompt")
	if v := counterValue(t, promptCounter); v != 100 {
		t.Errorf("expected 100 prompt tokens, got %v", v)
	}
	completionCounter, _ := m.TokensTotal.GetMetricWithLabelValues("gpt-4o", "completion")
	if v := counterValue(t, completionCounter); v != 50 {
		t.Errorf("expected 50 completion tokens, got %v", v)
	}
}

func TestRecordAccountEvents(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordUpstreamAttempt("rate_limited")
	m.RecordUpstreamAttempt("rate_limited")
	m.RecordCooldown()
	m.RecordRefresh("revoked")
	m.RecordVaultMigration("file")
	m.RecordRateLimitHit()

	attempts, _ := m.UpstreamAttempts.GetMetricWithLabelValues("rate_limited")
	if v := counterValue(t, attempts); v != 2 {
		t.Errorf("expected 2 rate limited attempts, got %v", v)
	}
	if v := counterValue(t, m.AccountCooldowns); v != 1 {
		t.Errorf("expected 1 cooldown, got %v", v)
	}
	refreshes, _ := m.TokenRefreshes.GetMetricWithLabelValues("revoked")
	if v := counterValue(t, refreshes); v != 1 {
		t.Errorf("expected 1 revoked refresh, got %v", v)
	}
	migrations, _ := m.VaultMigrations.GetMetricWithLabelValues("file")
	if v := counterValue(t, migrations); v != 1 {
		t.Errorf("expected 1 vault migration, got %v", v)
	}
	if v := counterValue(t, m.RateLimitHits); v != 1 {
		t.Errorf("expected 1 rate limit hit, got %v", v)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest(RequestLabels{Model: "x"})
	m.RecordUpstreamAttempt("ok")
	m.RecordCooldown()
	m.RecordRefresh("ok")
	m.RecordVaultMigration("file")
	m.RecordRateLimitHit()
}
