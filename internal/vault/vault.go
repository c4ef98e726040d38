// Package vault encrypts stored credentials with AES-256-GCM under a master
// key held in the first working backend (secure storage, OS keychain, file).
//
// Encrypted values have the form "iv:tag:ciphertext" in hex. Values that do
// not have that form are treated as legacy plaintext and returned unchanged.
// When the primary key fails to authenticate a value, keys still present in
// the other backends are tried and the value is re-encrypted under the
// primary key.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/singleflight"
)

// fallbackOrder is the order in which non-primary keys are tried.
var fallbackOrder = []Source{SourceKeychain, SourceFile, SourceSecureStorage}

type masterKey struct {
	key    []byte
	source Source
}

// Result is the outcome of DecryptWithMigration. Reencrypted is set when the
// value was recovered with a fallback key and re-sealed under the primary.
type Result struct {
	Value        string
	Reencrypted  string
	UsedFallback Source
}

// Vault is safe for concurrent use.
type Vault struct {
	backends []Backend

	group singleflight.Group
	mu    sync.RWMutex
	cache *masterKey

	goos    string
	appPath func() (string, error)
}

// New returns a vault trying backends in order.
func New(backends ...Backend) *Vault {
	return &Vault{
		backends: backends,
		goos:     runtime.GOOS,
		appPath:  os.Executable,
	}
}

// NewDefault builds the standard backend chain for service, keeping on-disk
// material under dir.
func NewDefault(service, dir string) *Vault {
	return New(
		NewSecureStorageBackend(service, dir),
		NewKeychainBackend(service),
		NewFileBackend(dir),
	)
}

// DefaultDir resolves the key directory: absolute paths are kept, relative
// ones are placed under the user's home directory.
func DefaultDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, dir), nil
}

// Source reports the backend holding the primary key, or "" before the key
// has been acquired.
func (v *Vault) Source() Source {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.cache == nil {
		return ""
	}
	return v.cache.source
}

func (v *Vault) primary(ctx context.Context) (*masterKey, error) {
	v.mu.RLock()
	cached := v.cache
	v.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	ch := v.group.DoChan("master-key", func() (any, error) {
		v.mu.RLock()
		cached := v.cache
		v.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		mk, err := v.acquire()
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.cache = mk
		v.mu.Unlock()
		return mk, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*masterKey), nil
	}
}

func (v *Vault) acquire() (*masterKey, error) {
	var lastErr error
	for _, b := range v.backends {
		key, created, err := getOrCreate(b)
		if err != nil {
			slog.Warn("master key backend failed", "backend", b.Name(), "error", err)
			lastErr = err
			continue
		}

		if b.Source() == SourceFile {
			slog.Warn("using file-based master key storage, which is less secure than the system keychain",
				"backend", b.Name(), "created", created)
		} else {
			slog.Info("master key ready", "backend", b.Name(), "created", created)
		}
		return &masterKey{key: key, source: b.Source()}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no key backends configured")
	}
	appPath, _ := v.appPath()
	slog.Error("failed to access any master key backend", "error", lastErr)
	return nil, &Error{
		Code: CodeKeychainUnavailable,
		Hint: keychainHint(v.goos, appPath, lastErr),
		Err:  lastErr,
	}
}

// Encrypt seals plaintext under the primary key.
func (v *Vault) Encrypt(ctx context.Context, plaintext string) (string, error) {
	mk, err := v.primary(ctx)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	out, err := encryptWithKey(mk.key, plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return out, nil
}

// Decrypt returns the plaintext of blob, ignoring any re-encryption.
func (v *Vault) Decrypt(ctx context.Context, blob string) (string, error) {
	res, err := v.DecryptWithMigration(ctx, blob)
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

// DecryptWithMigration decrypts blob, recovering values sealed under a key
// from another backend.
func (v *Vault) DecryptWithMigration(ctx context.Context, value string) (Result, error) {
	b, ok, err := parseBlob(value)
	if err != nil {
		slog.Warn("encrypted value is not valid hex")
		return Result{}, err
	}
	if !ok {
		return Result{Value: value}, nil
	}

	mk, err := v.primary(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("decrypt: %w", err)
	}

	plain, err := decryptWithKey(mk.key, b)
	if err == nil {
		return Result{Value: plain}, nil
	}
	if errors.Is(err, ErrCorrupted) {
		slog.Error("decryption failed: corrupted encrypted data")
		return Result{}, err
	}
	if !errors.Is(err, ErrAuthentication) {
		return Result{}, fmt.Errorf("decrypt: %w", err)
	}

	for _, fb := range v.fallbackBackends(mk.source) {
		key, err := fb.Get()
		if err != nil {
			continue
		}
		plain, err := decryptWithKey(key, b)
		if err != nil {
			continue
		}

		res := Result{Value: plain, UsedFallback: fb.Source()}
		re, err := encryptWithKey(mk.key, plain)
		if err != nil {
			slog.Warn("failed to re-encrypt recovered value", "from", fb.Source(), "to", mk.source, "error", err)
			return res, nil
		}
		slog.Info("re-encrypted value under primary key", "from", fb.Source(), "to", mk.source)
		res.Reencrypted = re
		return res, nil
	}

	slog.Error("decryption failed: authentication tag mismatch (wrong key or corrupted data)")
	return Result{}, &Error{Code: CodeDataMigrationFailed, Hint: HintRelogin, Err: ErrAuthentication}
}

func (v *Vault) fallbackBackends(primary Source) []Backend {
	var out []Backend
	for _, src := range fallbackOrder {
		if src == primary {
			continue
		}
		for _, b := range v.backends {
			if b.Source() == src {
				out = append(out, b)
			}
		}
	}
	return out
}
