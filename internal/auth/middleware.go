package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/antigravity-gateway/internal/httputil"
)

// extractKey reads the API key from "Authorization: Bearer" or, as Anthropic
// clients send it, "x-api-key".
func extractKey(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get("x-api-key")); key != "" {
		return key, ""
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "Missing API key. Use: Authorization: Bearer <api-key> or x-api-key: <api-key>"
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return "", "Invalid Authorization format. Use: Authorization: Bearer <api-key>"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "Empty API key"
	}
	return token, ""
}

// Middleware authenticates requests against store. Errors are written in
// the dialect of the requested endpoint.
func Middleware(store KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")
			dialect := httputil.DialectOf(r)

			token, problem := extractKey(r)
			if problem != "" {
				httputil.WriteAuthError(w, reqID, dialect, problem)
				return
			}

			meta, err := store.Lookup(r.Context(), HashKey(token))
			if err != nil {
				slog.Error("key lookup failed", "error", err, "key_prefix", KeyPrefix(token))
				httputil.WriteInternalError(w, reqID, dialect, "Internal error during authentication")
				return
			}
			if meta == nil {
				slog.Warn("auth failed: key not found", "key_prefix", KeyPrefix(token))
				httputil.WriteAuthError(w, reqID, dialect, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), InfoFromKey(meta))))
		})
	}
}

// safePrefix returns a safe-to-log prefix of an API key (never the full key).
func safePrefix(key string) string {
	if len(key) > 12 {
		return key[:12] + "..."
	}
	return key
}
