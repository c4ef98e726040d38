package upstream

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const maxErrorBody = 2048

// Error is a non-200 answer from the upstream.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Status, e.Message)
}

// newError extracts error.message from an upstream error body, falling back
// to the raw (truncated) body.
func newError(status int, body []byte) *Error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "0.error.message").String()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("status %d", status)
	}
	return &Error{Status: status, Message: msg}
}
