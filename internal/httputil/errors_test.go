package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteError_OpenAI(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "req_123", DialectOpenAI, http.StatusInternalServerError, "upstream failed")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
	if rid := w.Header().Get("X-Request-ID"); rid != "req_123" {
		t.Errorf("expected X-Request-ID req_123, got %s", rid)
	}

	var resp OpenAIError
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Error.Message != "upstream failed" {
		t.Errorf("expected message 'upstream failed', got %q", resp.Error.Message)
	}
	if resp.Error.Type != "server_error" {
		t.Errorf("expected type 'server_error', got %q", resp.Error.Type)
	}
}

func TestWriteError_Anthropic(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, "req_456", DialectAnthropic, http.StatusInternalServerError, "upstream failed")

	var resp AnthropicError
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Type != "error" {
		t.Errorf("expected type 'error', got %q", resp.Type)
	}
	if resp.Error.Type != "api_error" || resp.Error.Message != "upstream failed" {
		t.Errorf("unexpected error body %+v", resp.Error)
	}
}

func TestWriteAuthError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAuthError(w, "req_789", DialectAnthropic, "Invalid key")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
	var resp AnthropicError
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error.Type != "authentication_error" {
		t.Errorf("expected type 'authentication_error', got %q", resp.Error.Type)
	}
}

func TestWriteServiceUnavailableError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteServiceUnavailableError(w, "", DialectOpenAI, "no accounts")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") != "" {
		t.Error("expected no X-Request-ID header for an empty request id")
	}
}

func TestDialectOf(t *testing.T) {
	tests := []struct {
		path string
		want Dialect
	}{
		{"/v1/messages", DialectAnthropic},
		{"/v1/messages/count_tokens", DialectAnthropic},
		{"/v1/chat/completions", DialectOpenAI},
		{"/v1/models", DialectOpenAI},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, tt.path, nil)
		if got := DialectOf(r); got != tt.want {
			t.Errorf("DialectOf(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}
