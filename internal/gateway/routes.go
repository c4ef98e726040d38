package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/antigravity-gateway/internal/auth"
	"github.com/af-corp/antigravity-gateway/internal/ratelimit"
	"github.com/af-corp/antigravity-gateway/internal/telemetry"
)

// RouterConfig selects the middleware applied to the API routes. A nil
// KeyStore disables authentication and a nil Limiter disables rate limiting.
type RouterConfig struct {
	KeyStore   auth.KeyStore
	Limiter    ratelimit.Checker
	DefaultRPM int
	Metrics    *telemetry.Metrics
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

// NewRouter mounts the gateway routes.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)

	r.Get("/healthz", h.Health)
	r.Get("/status", h.Status)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if cfg.KeyStore != nil {
			r.Use(auth.Middleware(cfg.KeyStore))
		}
		if cfg.Limiter != nil {
			r.Use(ratelimit.Middleware(cfg.Limiter, cfg.DefaultRPM, cfg.Metrics))
		}
		r.Post("/v1/chat/completions", h.ChatCompletions)
		r.Post("/v1/messages", h.Messages)
		r.Post("/v1/messages/count_tokens", h.CountTokens)
		r.Get("/v1/models", h.ListModels)
	})
	return r
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID propagates or assigns X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}
