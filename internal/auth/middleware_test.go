package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mockKeyStore implements KeyStore for testing.
type mockKeyStore struct {
	keys map[string]*KeyMetadata
	err  error
}

func (m *mockKeyStore) Lookup(ctx context.Context, keyHash string) (*KeyMetadata, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.keys[keyHash], nil
}

func serve(t *testing.T, store KeyStore, path string, headers map[string]string) (*httptest.ResponseRecorder, *AuthInfo) {
	t.Helper()
	var got *AuthInfo
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := AuthFromContext(r.Context())
		if !ok {
			t.Error("expected auth info in context")
		}
		got = info
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "test-req")
	handler.ServeHTTP(w, req)
	return w, got
}

func TestMiddleware_MissingKey(t *testing.T) {
	w, got := serve(t, &mockKeyStore{}, "/v1/chat/completions", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if got != nil {
		t.Error("handler should not be called")
	}
}

func TestMiddleware_InvalidFormat(t *testing.T) {
	w, _ := serve(t, &mockKeyStore{}, "/v1/chat/completions", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddleware_InvalidKeyAnthropicShape(t *testing.T) {
	w, _ := serve(t, &mockKeyStore{}, "/v1/messages", map[string]string{"x-api-key": "agw-prod-invalidkey123"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	var body struct {
		Type  string `json:"type"`
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Type != "error" || body.Error.Type != "authentication_error" {
		t.Errorf("unexpected error body %s", w.Body.String())
	}
}

func TestMiddleware_StoreError(t *testing.T) {
	w, _ := serve(t, &mockKeyStore{err: errors.New("db down")}, "/v1/chat/completions", map[string]string{"Authorization": "Bearer agw-prod-x"})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestMiddleware_ValidKey(t *testing.T) {
	rawKey := "agw-prod-testkey12345678901234567890ab"
	store := &mockKeyStore{keys: map[string]*KeyMetadata{
		HashKey(rawKey): {ID: "key-uuid-123", Name: "ci", RPMLimit: 30, AllowedModels: []string{"gpt-4o"}},
	}}

	for _, headers := range []map[string]string{
		{"Authorization": "Bearer " + rawKey},
		{"x-api-key": rawKey},
	} {
		w, got := serve(t, store, "/v1/messages", headers)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if got == nil || got.KeyID != "key-uuid-123" || got.RPMLimit != 30 {
			t.Fatalf("unexpected auth info %+v", got)
		}
		if !got.AllowsModel("gpt-4o") || got.AllowsModel("gemini-2.5-pro") {
			t.Error("allow-list not applied")
		}
	}
}

func TestStaticAndChainKeyStore(t *testing.T) {
	raw := "agw-dev-static"
	static := NewStaticKeyStore([]string{"", HashKey(raw)})
	chain := ChainKeyStore{&mockKeyStore{}, static}

	meta, err := chain.Lookup(context.Background(), HashKey(raw))
	if err != nil || meta == nil {
		t.Fatalf("expected static key match, got %v %v", meta, err)
	}
	if meta.ID != "static-1" {
		t.Errorf("unexpected id %s", meta.ID)
	}

	meta, err = chain.Lookup(context.Background(), HashKey("other"))
	if err != nil || meta != nil {
		t.Errorf("expected no match, got %v %v", meta, err)
	}

	_, err = ChainKeyStore{&mockKeyStore{err: errors.New("boom")}, static}.Lookup(context.Background(), HashKey(raw))
	if err == nil {
		t.Error("store errors should stop the chain")
	}
}
