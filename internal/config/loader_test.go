package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_VAR:fallback}", "fallback"},
		{"${UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFile(t *testing.T) {
	// Create a temp YAML file
	tmpFile, err := os.CreateTemp("", "test-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "0.0.0.0"
  port: 9999
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
}

func TestLoadFile_WithEnvVars(t *testing.T) {
	os.Setenv("TEST_PORT", "7777")
	defer os.Unsetenv("TEST_PORT")

	tmpFile, err := os.CreateTemp("", "test-config-env-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "${TEST_HOST:127.0.0.1}"
  port: ${TEST_PORT}
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1 (default), got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_DefaultsWithoutModelsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gateway.yaml", `
upstream:
  max_attempts: 5
accounts:
  store: memory
`)

	l := NewLoader(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := l.Config()
	if cfg.Upstream.MaxAttempts != 5 {
		t.Errorf("expected max_attempts 5, got %d", cfg.Upstream.MaxAttempts)
	}
	if cfg.Accounts.Store != "memory" {
		t.Errorf("expected memory store, got %s", cfg.Accounts.Store)
	}
	if cfg.Accounts.Cooldown != 5*time.Minute {
		t.Errorf("expected default cooldown 5m, got %s", cfg.Accounts.Cooldown)
	}
	if len(cfg.Upstream.Endpoints) != 2 {
		t.Errorf("expected 2 default endpoints, got %d", len(cfg.Upstream.Endpoints))
	}

	models := l.Models()
	if models.Static["gpt-4o"] != "gemini-2.5-pro" {
		t.Errorf("expected default static table, got gpt-4o -> %q", models.Static["gpt-4o"])
	}
	if models.DefaultModel != "claude-sonnet-4-5" {
		t.Errorf("expected default model claude-sonnet-4-5, got %s", models.DefaultModel)
	}
}

func TestLoader_ModelsFileMergesIntoDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "gateway.yaml", "server:\n  port: 9000\n")
	writeFile(t, dir, "models.yaml", `
custom_mapping:
  my-model: gemini-3-flash
openai_mapping:
  gpt-4-series: gemini-3-pro-high
static_mapping:
  legacy-model: gemini-2.5-pro
exposed:
  - gemini-3-flash
`)

	l := NewLoader(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	models := l.Models()
	if models.Custom["my-model"] != "gemini-3-flash" {
		t.Errorf("custom mapping not loaded: %v", models.Custom)
	}
	if models.OpenAI["gpt-4-series"] != "gemini-3-pro-high" {
		t.Errorf("openai mapping not loaded: %v", models.OpenAI)
	}
	if models.Static["legacy-model"] != "gemini-2.5-pro" || models.Static["gpt-4o"] != "gemini-2.5-pro" {
		t.Errorf("static mapping should merge with defaults: %v", models.Static)
	}
	if len(models.Exposed) != 1 || models.Exposed[0] != "gemini-3-flash" {
		t.Errorf("exposed list should be replaced, got %v", models.Exposed)
	}
}

func TestLoader_MissingGatewayFile(t *testing.T) {
	l := NewLoader(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := l.Load(); err == nil {
		t.Fatal("expected error when gateway.yaml is missing")
	}
}
