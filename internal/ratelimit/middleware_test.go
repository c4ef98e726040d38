package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/af-corp/antigravity-gateway/internal/auth"
	"github.com/af-corp/antigravity-gateway/internal/httputil"
	"github.com/af-corp/antigravity-gateway/internal/telemetry"
)

// denyAll rejects every request with a fixed wait.
type denyAll struct {
	retryAfter time.Duration
}

func (d denyAll) Allow(_ context.Context, _ string, rpm int) Decision {
	return Decision{Limit: rpm, ResetAt: time.Now().Add(d.retryAfter), RetryAfter: d.retryAfter}
}

func serveWithAuth(t *testing.T, mw func(http.Handler) http.Handler, path string, info *auth.AuthInfo) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, path, nil)
	if info != nil {
		req = req.WithContext(auth.ContextWithAuth(req.Context(), info))
	}
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-1")
	handler.ServeHTTP(rec, req)
	return rec, called
}

func TestMiddleware_AllowsRequest(t *testing.T) {
	rec, called := serveWithAuth(t, Middleware(NewLimiter(nil), 0, nil), "/v1/chat/completions", &auth.AuthInfo{KeyID: "key-1", RPMLimit: 100})

	if !called || rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if h := rec.Header().Get(headerRateLimitRequests); h != "100" {
		t.Errorf("expected X-RateLimit-Limit-Requests=100, got %s", h)
	}
	if h := rec.Header().Get(headerRateLimitRemainingRequests); h != "99" {
		t.Errorf("expected X-RateLimit-Remaining-Requests=99, got %s", h)
	}
	if h := rec.Header().Get(headerRateLimitReset); h == "" {
		t.Error("expected X-RateLimit-Reset-Requests header")
	}
}

func TestMiddleware_FallbackRPM(t *testing.T) {
	rec, _ := serveWithAuth(t, Middleware(NewLimiter(nil), 0, nil), "/v1/chat/completions", &auth.AuthInfo{KeyID: "key-2"})
	if h := rec.Header().Get(headerRateLimitRequests); h != "60" {
		t.Errorf("expected default RPM=60, got %s", h)
	}

	rec, _ = serveWithAuth(t, Middleware(NewLimiter(nil), 25, nil), "/v1/chat/completions", &auth.AuthInfo{KeyID: "key-2"})
	if h := rec.Header().Get(headerRateLimitRequests); h != "25" {
		t.Errorf("expected configured RPM=25, got %s", h)
	}
}

func TestMiddleware_NoAuth_PassThrough(t *testing.T) {
	_, called := serveWithAuth(t, Middleware(denyAll{}, 0, nil), "/v1/chat/completions", nil)
	if !called {
		t.Error("expected handler to be called when no auth context")
	}
}

func TestMiddleware_Exceeded(t *testing.T) {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	rec, called := serveWithAuth(t, Middleware(denyAll{retryAfter: 29500 * time.Millisecond}, 10, metrics), "/v1/messages", &auth.AuthInfo{KeyID: "key-3"})

	if called {
		t.Error("handler should not be called")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get(headerRetryAfter) != "30" {
		t.Errorf("expected Retry-After 30, got %q", rec.Header().Get(headerRetryAfter))
	}

	var body httputil.AnthropicError
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if body.Error.Type != "rate_limit_error" {
		t.Errorf("expected rate_limit_error, got %s", body.Error.Type)
	}
	if v := testutil.ToFloat64(metrics.RateLimitHits); v != 1 {
		t.Errorf("expected 1 rate limit hit, got %v", v)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int
	}{
		{0, 1},
		{200 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{time.Minute, 60},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
