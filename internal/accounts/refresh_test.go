package accounts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuthRefresher_Refresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-2","expires_in":3599,"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	r := NewOAuthRefresher("client-id", "client-secret", srv.URL)
	tok, err := r.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", tok.AccessToken)
	assert.InDelta(t, 3599, tok.ExpiresIn, 2)
}

func TestOAuthRefresher_Revoked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	}))
	defer srv.Close()

	r := NewOAuthRefresher("client-id", "client-secret", srv.URL)
	_, err := r.Refresh(context.Background(), "rt-1")

	var oerr *OAuthError
	require.True(t, errors.As(err, &oerr), "got %v", err)
	assert.True(t, oerr.IsRevoked())
	assert.Equal(t, http.StatusBadRequest, oerr.Status)
	assert.Equal(t, "Token has been expired or revoked.", oerr.Description)
}

func TestOAuthError_IsRevoked(t *testing.T) {
	assert.False(t, (&OAuthError{Code: "invalid_client"}).IsRevoked())
	assert.Equal(t, "oauth invalid_client (401)", (&OAuthError{Code: "invalid_client", Status: 401}).Error())
}
