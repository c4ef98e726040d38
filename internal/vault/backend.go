package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
)

// Source identifies where a master key lives.
type Source string

const (
	SourceSecureStorage Source = "secure-storage"
	SourceKeychain      Source = "keychain"
	SourceFile          Source = "file"
)

const keychainAccount = "MasterKey"

// Backend stores one master key.
type Backend interface {
	// Get returns the stored key, an error wrapping ErrNotFound when the
	// backend holds none, or ErrUnavailable when a stored key cannot be read.
	Get() ([]byte, error)
	Set(key []byte) error
	Name() string
	Source() Source
}

// getOrCreate loads the backend's key, generating and storing a new one
// when none exists yet.
func getOrCreate(b Backend) (key []byte, created bool, err error) {
	key, err = b.Get()
	if err == nil {
		return key, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	key, err = generateKey()
	if err != nil {
		return nil, false, err
	}
	if err := b.Set(key); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// KeychainBackend keeps the master key hex in the OS keyring.
type KeychainBackend struct {
	service string
}

func NewKeychainBackend(service string) *KeychainBackend {
	return &KeychainBackend{service: service}
}

func (k *KeychainBackend) Get() ([]byte, error) {
	encoded, err := keyring.Get(k.service, keychainAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keychain: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	return decodeHexKey(encoded)
}

func (k *KeychainBackend) Set(key []byte) error {
	if err := keyring.Set(k.service, keychainAccount, hex.EncodeToString(key)); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

func (k *KeychainBackend) Name() string   { return "system keychain" }
func (k *KeychainBackend) Source() Source { return SourceKeychain }

// SecureStorageBackend seals the master key with a wrapping secret held in
// the OS keyring and keeps the sealed blob on disk.
type SecureStorageBackend struct {
	service string
	path    string
}

func NewSecureStorageBackend(service, dir string) *SecureStorageBackend {
	return &SecureStorageBackend{service: service, path: filepath.Join(dir, ".mk.sealed")}
}

func (s *SecureStorageBackend) wrapService() string { return s.service + " Safe Storage" }

func (s *SecureStorageBackend) wrappingKey(create bool) ([]byte, error) {
	encoded, err := keyring.Get(s.wrapService(), s.service)
	if err == nil {
		return decodeHexKey(encoded)
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("secure storage get: %w", err)
	}
	if !create {
		return nil, fmt.Errorf("secure storage: wrapping secret missing for %s: %w", s.path, ErrUnavailable)
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(s.wrapService(), s.service, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("secure storage set: %w", err)
	}
	return key, nil
}

func (s *SecureStorageBackend) Get() ([]byte, error) {
	sealed, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("secure storage: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading sealed key: %w", err)
	}

	wrap, err := s.wrappingKey(false)
	if err != nil {
		return nil, err
	}
	b, ok, err := parseBlob(strings.TrimSpace(string(sealed)))
	if err != nil {
		return nil, fmt.Errorf("sealed key: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("sealed key: %w", ErrInvalidFormat)
	}
	hexKey, err := decryptWithKey(wrap, b)
	if err != nil {
		return nil, fmt.Errorf("unsealing key: %w", err)
	}
	return decodeHexKey(hexKey)
}

func (s *SecureStorageBackend) Set(key []byte) error {
	wrap, err := s.wrappingKey(true)
	if err != nil {
		return err
	}
	sealed, err := encryptWithKey(wrap, hex.EncodeToString(key))
	if err != nil {
		return fmt.Errorf("sealing key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	return atomicWriteFile(s.path, []byte(sealed), 0o600)
}

func (s *SecureStorageBackend) Name() string   { return "secure storage (" + s.path + ")" }
func (s *SecureStorageBackend) Source() Source { return SourceSecureStorage }

// FileBackend keeps the master key hex in a 0600 file. It is the least
// protected backend.
type FileBackend struct {
	path string
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{path: filepath.Join(dir, ".mk")}
}

func (f *FileBackend) Get() ([]byte, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("key file: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s has permissions %04o (expected 0600)", ErrInsecurePermissions, f.path, perm)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return decodeHexKey(string(data))
}

func (f *FileBackend) Set(key []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	return atomicWriteFile(f.path, []byte(hex.EncodeToString(key)), 0o600)
}

func (f *FileBackend) Name() string   { return "file (" + f.path + ")" }
func (f *FileBackend) Source() Source { return SourceFile }

// atomicWriteFile writes to a unique temp file and renames it over path.
func atomicWriteFile(path string, data []byte, mode os.FileMode) error {
	tmp := fmt.Sprintf("%s.tmp.%d.%d", path, os.Getpid(), time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, mode); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
