package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/antigravity-gateway/internal/auth"
	"github.com/af-corp/antigravity-gateway/internal/httputil"
	"github.com/af-corp/antigravity-gateway/internal/telemetry"
)

const (
	defaultRPM = 60

	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// Middleware enforces per-key requests per minute. Keys without their own
// limit get fallbackRPM (60 when unset). Requests without auth info pass.
func Middleware(limiter Checker, fallbackRPM int, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	if fallbackRPM <= 0 {
		fallbackRPM = defaultRPM
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authInfo, ok := auth.AuthFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			rpm := fallbackRPM
			if authInfo.RPMLimit > 0 {
				rpm = authInfo.RPMLimit
			}

			d := limiter.Allow(r.Context(), authInfo.KeyID, rpm)

			w.Header().Set(headerRateLimitRequests, strconv.Itoa(d.Limit))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.Itoa(d.Remaining))
			w.Header().Set(headerRateLimitReset, d.ResetAt.UTC().Format(time.RFC3339))

			if !d.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"key_id", authInfo.KeyID,
					"limit", d.Limit,
					"retry_after", d.RetryAfter,
				)
				metrics.RecordRateLimitHit()
				w.Header().Set(headerRetryAfter, strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
				httputil.WriteRateLimitError(w, reqID, httputil.DialectOf(r),
					fmt.Sprintf("Rate limit exceeded: %d requests per minute. Retry after %s", d.Limit, d.ResetAt.UTC().Format(time.RFC3339)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}
