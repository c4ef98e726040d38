package auth

import (
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey("prod")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	if !strings.HasPrefix(key, "agw-prod-") {
		t.Errorf("key should start with 'agw-prod-', got: %s", key)
	}

	// agw-prod- is 9 chars, plus 32 random = 41 total
	if len(key) != 41 {
		t.Errorf("expected key length 41, got %d: %s", len(key), key)
	}

	// Ensure randomness: two keys should differ
	key2, _ := GenerateKey("prod")
	if key == key2 {
		t.Error("two generated keys should not be identical")
	}
}

func TestGenerateKey_DifferentEnv(t *testing.T) {
	key, err := GenerateKey("dev")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if !strings.HasPrefix(key, "agw-dev-") {
		t.Errorf("key should start with 'agw-dev-', got: %s", key)
	}
}

func TestHashKey(t *testing.T) {
	key := "agw-prod-abcdefghijklmnopqrstuvwxyz012345"
	hash := HashKey(key)

	// SHA-256 produces 64-char hex string
	if len(hash) != 64 {
		t.Errorf("expected hash length 64, got %d", len(hash))
	}

	// Same input should produce same hash
	hash2 := HashKey(key)
	if hash != hash2 {
		t.Error("same key should produce same hash")
	}

	// Different input should produce different hash
	hash3 := HashKey("agw-prod-different")
	if hash == hash3 {
		t.Error("different keys should produce different hashes")
	}
}

func TestKeyPrefix(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"agw-prod-abcdefghijklmnopqrstuvwxyz012345", "agw-prod-abcdefgh"},
		{"agw-dev-12345678901234567890123456789012", "agw-dev-12345678"},
		{"short", "short"},
	}

	for _, tt := range tests {
		got := KeyPrefix(tt.key)
		if got != tt.expected {
			t.Errorf("KeyPrefix(%q) = %q, want %q", tt.key, got, tt.expected)
		}
	}
}

func TestKeyMetadata_AllowsModel(t *testing.T) {
	open := &KeyMetadata{}
	if !open.AllowsModel("gpt-4o") {
		t.Error("empty allow-list should allow every model")
	}
	restricted := &KeyMetadata{AllowedModels: []string{"claude-sonnet-4-5"}}
	if !restricted.AllowsModel("claude-sonnet-4-5") {
		t.Error("listed model should be allowed")
	}
	if restricted.AllowsModel("gpt-4o") {
		t.Error("unlisted model should be refused")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
		hours   float64
	}{
		{"365d", false, 365 * 24},
		{"30d", false, 30 * 24},
		{"24h", false, 24},
		{"1h", false, 1},
		{"", true, 0},
	}

	for _, tt := range tests {
		dur, err := ParseDuration(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDuration(%q) should have errored", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDuration(%q) unexpected error: %v", tt.input, err)
			continue
		}
		if dur.Hours() != tt.hours {
			t.Errorf("ParseDuration(%q) = %v hours, want %v", tt.input, dur.Hours(), tt.hours)
		}
	}
}
