package httputil

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Dialect selects the error body shape written to the client.
type Dialect string

const (
	DialectOpenAI    Dialect = "openai"
	DialectAnthropic Dialect = "anthropic"
)

// DialectOf infers the dialect from the request path.
func DialectOf(r *http.Request) Dialect {
	if strings.HasPrefix(r.URL.Path, "/v1/messages") {
		return DialectAnthropic
	}
	return DialectOpenAI
}

// OpenAIError is the chat-completions error body.
type OpenAIError struct {
	Error OpenAIErrorBody `json:"error"`
}

type OpenAIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// AnthropicError is the messages-API error body.
type AnthropicError struct {
	Type  string             `json:"type"`
	Error AnthropicErrorBody `json:"error"`
}

type AnthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorType(d Dialect, statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	}
	if d == DialectAnthropic {
		return "api_error"
	}
	return "server_error"
}

func WriteError(w http.ResponseWriter, requestID string, d Dialect, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(statusCode)

	errType := errorType(d, statusCode)
	if d == DialectAnthropic {
		json.NewEncoder(w).Encode(AnthropicError{
			Type:  "error",
			Error: AnthropicErrorBody{Type: errType, Message: message},
		})
		return
	}
	json.NewEncoder(w).Encode(OpenAIError{Error: OpenAIErrorBody{Message: message, Type: errType}})
}

func WriteAuthError(w http.ResponseWriter, requestID string, d Dialect, message string) {
	WriteError(w, requestID, d, http.StatusUnauthorized, message)
}

func WriteRateLimitError(w http.ResponseWriter, requestID string, d Dialect, message string) {
	WriteError(w, requestID, d, http.StatusTooManyRequests, message)
}

func WriteBadRequestError(w http.ResponseWriter, requestID string, d Dialect, message string) {
	WriteError(w, requestID, d, http.StatusBadRequest, message)
}

func WriteInternalError(w http.ResponseWriter, requestID string, d Dialect, message string) {
	WriteError(w, requestID, d, http.StatusInternalServerError, message)
}

func WriteServiceUnavailableError(w http.ResponseWriter, requestID string, d Dialect, message string) {
	WriteError(w, requestID, d, http.StatusServiceUnavailable, message)
}
