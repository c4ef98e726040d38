package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"
)

const (
	alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"
	keyScheme    = "agw"
)

// GenerateKey creates a gateway API key: agw-{env}-{32 random alphanumeric chars}
func GenerateKey(env string) (string, error) {
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", keyScheme, env, random), nil
}

// HashKey returns the SHA-256 hex digest of an API key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}

// KeyPrefix returns the display-safe part of a key: agw-{env}-{first 8 chars}
func KeyPrefix(key string) string {
	scheme, rest, ok := strings.Cut(key, "-")
	if !ok {
		return safePrefix(key)
	}
	env, random, ok := strings.Cut(rest, "-")
	if !ok {
		return safePrefix(key)
	}
	if len(random) > 8 {
		random = random[:8]
	}
	return scheme + "-" + env + "-" + random
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// KeyMetadata is what the gateway knows about an API key. It is cached in
// Redis as JSON.
type KeyMetadata struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Environment   string    `json:"environment"`
	AllowedModels []string  `json:"allowed_models,omitempty"`
	RPMLimit      int       `json:"rpm_limit,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
}

// AllowsModel reports whether the key may use model. An empty allow-list
// allows every model.
func (km *KeyMetadata) AllowsModel(model string) bool {
	return len(km.AllowedModels) == 0 || slices.Contains(km.AllowedModels, model)
}

// ParseDuration parses a duration string like "365d", "30d", "24h".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	last := s[len(s)-1]
	if last == 'd' {
		var days int
		_, err := fmt.Sscanf(s, "%dd", &days)
		if err != nil {
			return 0, fmt.Errorf("parse days: %w", err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
