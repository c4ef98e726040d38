package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/af-corp/antigravity-gateway/internal/accounts"
	"github.com/af-corp/antigravity-gateway/internal/upstream"
)

const DefaultMaxAttempts = 3

// RetryPolicy bounds how often a request is re-sent with another account.
// There is no delay between attempts: each attempt uses a different
// account.
type RetryPolicy struct {
	MaxAttempts int
	Retryable   func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Retryable: IsTransient}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. attempt starts at 1. ErrNoAccountAvailable is
// never retried.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if errors.Is(err, accounts.ErrNoAccountAvailable) || p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt < attempts {
			slog.Warn("transient upstream error, retrying with next account", "attempt", attempt, "error", err)
		}
	}
	return err
}

var transientMarkers = []string{
	"not_found",
	"permission_denied",
	"resource_exhausted",
	"quota",
	"rate_limit",
}

// transientCode matches a bare 403, 404 or 429 in errors that carry no
// parsed status.
var transientCode = regexp.MustCompile(`(^|[^0-9])(403|404|429)([^0-9]|$)`)

// IsTransient reports whether err should put the account in cool-down and
// be retried with another account. A parsed upstream status decides first;
// only its message is then searched for textual markers.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var uerr *upstream.Error
	if errors.As(err, &uerr) {
		switch uerr.Status {
		case http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests:
			return true
		}
		return hasTransientMarker(uerr.Message)
	}
	msg := err.Error()
	return hasTransientMarker(msg) || transientCode.MatchString(msg)
}

func hasTransientMarker(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
