package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/antigravity-gateway/internal/accounts"
	"github.com/af-corp/antigravity-gateway/internal/auth"
	"github.com/af-corp/antigravity-gateway/internal/httputil"
	"github.com/af-corp/antigravity-gateway/internal/router"
	"github.com/af-corp/antigravity-gateway/internal/telemetry"
	"github.com/af-corp/antigravity-gateway/internal/types"
	"github.com/af-corp/antigravity-gateway/internal/upstream"
)

const maxBodyBytes = 32 << 20

// StatusSource reports the state shown on /status.
type StatusSource interface {
	Status() []accounts.AccountStatus
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	svc       *Service
	models    *router.Models
	tokens    *TokenCounter
	metrics   *telemetry.Metrics
	accounts  StatusSource
	endpoints *router.Endpoints
	keySource func() string
	version   string
}

type HandlerOption func(*Handler)

// WithStatus exposes account, endpoint and vault state on /status.
func WithStatus(accts StatusSource, endpoints *router.Endpoints, keySource func() string) HandlerOption {
	return func(h *Handler) {
		h.accounts = accts
		h.endpoints = endpoints
		h.keySource = keySource
	}
}

func WithVersion(v string) HandlerOption {
	return func(h *Handler) { h.version = v }
}

func NewHandler(svc *Service, models *router.Models, metrics *telemetry.Metrics, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:     svc,
		models:  models,
		tokens:  NewTokenCounter(),
		metrics: metrics,
		version: "dev",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// decode reads a JSON request body into dest, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, reqID string, d httputil.Dialect, dest any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, d, "Failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		httputil.WriteBadRequestError(w, reqID, d, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// checkModel validates the model field and the caller's allow-list.
func checkModel(w http.ResponseWriter, r *http.Request, reqID string, d httputil.Dialect, model string) bool {
	if model == "" {
		httputil.WriteBadRequestError(w, reqID, d, "model is required")
		return false
	}
	if info, ok := auth.AuthFromContext(r.Context()); ok && !info.AllowsModel(model) {
		httputil.WriteError(w, reqID, d, http.StatusForbidden, "Model not allowed for this API key: "+model)
		return false
	}
	return true
}

// writeServiceError maps a service failure to an HTTP error and returns
// the status written.
func writeServiceError(w http.ResponseWriter, reqID string, d httputil.Dialect, err error) int {
	var uerr *upstream.Error
	switch {
	case errors.Is(err, accounts.ErrNoAccountAvailable):
		httputil.WriteServiceUnavailableError(w, reqID, d, "No available accounts")
		return http.StatusServiceUnavailable
	case errors.As(err, &uerr):
		httputil.WriteInternalError(w, reqID, d, uerr.Message)
	default:
		httputil.WriteInternalError(w, reqID, d, err.Error())
	}
	return http.StatusInternalServerError
}

// ChatCompletions handles POST /v1/chat/completions
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()
	const d = httputil.DialectOpenAI

	var req types.OpenAIChatRequest
	if !decode(w, r, reqID, d, &req) || !checkModel(w, r, reqID, d, req.Model) {
		return
	}
	if len(req.Messages) == 0 {
		httputil.WriteBadRequestError(w, reqID, d, "messages is required")
		return
	}

	if req.Stream {
		res, err := h.svc.StreamChatCompletions(r.Context(), &req, w)
		h.finish(w, reqID, d, req.Model, true, receivedAt, res, err)
		return
	}

	resp, res, err := h.svc.ChatCompletions(r.Context(), &req)
	if h.finish(w, reqID, d, req.Model, false, receivedAt, res, err) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// Messages handles POST /v1/messages
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()
	const d = httputil.DialectAnthropic

	var req types.ClaudeRequest
	if !decode(w, r, reqID, d, &req) || !checkModel(w, r, reqID, d, req.Model) {
		return
	}
	if len(req.Messages) == 0 {
		httputil.WriteBadRequestError(w, reqID, d, "messages is required")
		return
	}

	if req.Stream {
		res, err := h.svc.StreamMessages(r.Context(), &req, w)
		h.finish(w, reqID, d, req.Model, true, receivedAt, res, err)
		return
	}

	resp, res, err := h.svc.Messages(r.Context(), &req)
	if h.finish(w, reqID, d, req.Model, false, receivedAt, res, err) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// finish writes the error response if err is set, then logs and records
// the request. It reports whether the caller should write a success body.
func (h *Handler) finish(w http.ResponseWriter, reqID string, d httputil.Dialect, model string, stream bool, receivedAt time.Time, res *Result, err error) bool {
	status := http.StatusOK
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("client cancelled request", "request_id", reqID, "model_requested", model)
			return false
		}
		status = writeServiceError(w, reqID, d, err)
	}
	if res == nil {
		res = &Result{}
	}
	duration := time.Since(receivedAt)

	attrs := []any{
		"request_id", reqID,
		"dialect", string(d),
		"model_requested", model,
		"model_served", res.Model,
		"account", res.Account,
		"attempts", res.Attempts,
		"stop_reason", res.StopReason,
		"prompt_tokens", res.Usage.InputTokens,
		"completion_tokens", res.Usage.OutputTokens,
		"duration_ms", duration.Milliseconds(),
		"status_code", status,
		"stream", stream,
	}
	if err != nil {
		slog.Warn("request failed", append(attrs, "error", err)...)
	} else {
		slog.Info("request completed", attrs...)
	}

	h.metrics.RecordRequest(telemetry.RequestLabels{
		Dialect:          string(d),
		Model:            model,
		Status:           strconv.Itoa(status),
		DurationMs:       float64(duration.Milliseconds()),
		PromptTokens:     res.Usage.InputTokens,
		CompletionTokens: res.Usage.OutputTokens,
	})
	return err == nil
}

// CountTokens handles POST /v1/messages/count_tokens
func (h *Handler) CountTokens(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	const d = httputil.DialectAnthropic

	var req types.ClaudeRequest
	if !decode(w, r, reqID, d, &req) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"input_tokens": h.tokens.Count(&req)})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	info, _ := auth.AuthFromContext(r.Context())

	now := time.Now().Unix()
	models := []modelObject{}
	for _, name := range h.models.Exposed() {
		if info != nil && !info.AllowsModel(name) {
			continue
		}
		models = append(models, modelObject{
			ID:      name,
			Object:  "model",
			Created: now,
			OwnedBy: "antigravity",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(modelListResponse{
		Object: "list",
		Data:   models,
	})
}

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string        `json:"object"`
	Data   []modelObject `json:"data"`
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

type statusResponse struct {
	Version      string                   `json:"version"`
	AccountCount int                      `json:"account_count"`
	CoolingDown  int                      `json:"cooling_down"`
	Accounts     []accounts.AccountStatus `json:"accounts"`
	Endpoints    map[string]string        `json:"endpoints,omitempty"`
	KeySource    string                   `json:"key_source,omitempty"`
}

// Status handles GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Version: h.version, Accounts: []accounts.AccountStatus{}}
	if h.accounts != nil {
		resp.Accounts = h.accounts.Status()
		resp.AccountCount = len(resp.Accounts)
		for _, a := range resp.Accounts {
			if a.CoolingDown {
				resp.CoolingDown++
			}
		}
	}
	if h.endpoints != nil {
		resp.Endpoints = h.endpoints.States()
	}
	if h.keySource != nil {
		resp.KeySource = h.keySource()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
