package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is Google's OAuth token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// OAuthError is an error response from the token endpoint.
type OAuthError struct {
	Status      int
	Code        string
	Description string
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth %s (%d): %s", e.Code, e.Status, e.Description)
	}
	return fmt.Sprintf("oauth %s (%d)", e.Code, e.Status)
}

// IsRevoked reports whether the refresh token is no longer valid and the
// account has to be re-authenticated.
func (e *OAuthError) IsRevoked() bool {
	return e.Code == "invalid_grant"
}

// OAuthRefresher refreshes access tokens with the refresh-token grant.
type OAuthRefresher struct {
	config *oauth2.Config
	client *http.Client
}

func NewOAuthRefresher(clientID, clientSecret, tokenURL string) *OAuthRefresher {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)

	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			oerr := &OAuthError{Code: re.ErrorCode, Description: re.ErrorDescription}
			if re.Response != nil {
				oerr.Status = re.Response.StatusCode
			}
			return nil, oerr
		}
		return nil, fmt.Errorf("refresh access token: %w", err)
	}

	expiresIn := tok.ExpiresIn
	if expiresIn == 0 && !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	return &RefreshedToken{AccessToken: tok.AccessToken, ExpiresIn: expiresIn}, nil
}
