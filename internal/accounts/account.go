// Package accounts keeps the in-memory view of upstream accounts and hands
// out access tokens by round-robin, refreshing tokens close to expiry and
// skipping accounts that are cooling down after a rate-limit.
package accounts

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"time"
)

// ErrNoAccountAvailable is returned when no account is loaded or every
// account is cooling down.
var ErrNoAccountAvailable = errors.New("no account available")

// ErrAccountNotFound is returned by a Store for an unknown account id.
var ErrAccountNotFound = errors.New("account not found")

// Token is the credential payload stored per account.
type Token struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	ExpiresIn       int64  `json:"expires_in"`
	ExpiryTimestamp int64  `json:"expiry_timestamp"`
	ProjectID       string `json:"project_id,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
}

// Expiry returns the expiry as a time.
func (t Token) Expiry() time.Time {
	return time.Unix(t.ExpiryTimestamp, 0)
}

// Account is an account record. A nil Token means the account has no
// credential and is never selected.
type Account struct {
	ID    string
	Email string
	Token *Token
}

// Store is the durable account store.
type Store interface {
	GetAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, id string) (*Account, error)
	UpdateToken(ctx context.Context, id string, token Token) error
	GetSetting(ctx context.Context, key, def string) (string, error)
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error)
}

type RefreshedToken struct {
	AccessToken string
	ExpiresIn   int64
}

// ProjectResolver looks up the upstream project bound to an access token.
type ProjectResolver interface {
	ResolveProject(ctx context.Context, accessToken string) (string, error)
}

// newSessionID returns a negative 19-digit decimal string.
func newSessionID() string {
	const lo, span = int64(1_000_000_000_000_000_000), int64(8_000_000_000_000_000_000)
	return strconv.FormatInt(-(lo + rand.Int64N(span)), 10)
}
