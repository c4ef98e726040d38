package auth

import (
	"context"
)

type contextKey string

const authContextKey contextKey = "gateway_auth"

// AuthInfo is the authenticated caller attached to the request context.
type AuthInfo struct {
	KeyID    string
	Name     string
	RPMLimit int
	key      *KeyMetadata
}

// AllowsModel reports whether the caller may request model.
func (a *AuthInfo) AllowsModel(model string) bool {
	return a.key == nil || a.key.AllowsModel(model)
}

// InfoFromKey builds the request identity for an authenticated key.
func InfoFromKey(meta *KeyMetadata) *AuthInfo {
	return &AuthInfo{
		KeyID:    meta.ID,
		Name:     meta.Name,
		RPMLimit: meta.RPMLimit,
		key:      meta,
	}
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
