package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

const (
	// KeySize is the master key size in bytes (AES-256).
	KeySize = 32
	ivSize  = 16
	tagSize = 16
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]*$`)

func generateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	return key, nil
}

// decodeHexKey parses a stored master key: exactly 64 hex characters.
func decodeHexKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) != KeySize*2 || !hexPattern.MatchString(s) {
		return nil, fmt.Errorf("master key has unexpected format (%d chars)", len(s))
	}
	return hex.DecodeString(s)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// encryptWithKey seals plaintext as "iv:tag:ciphertext" in lower-case hex.
func encryptWithKey(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// blob is a parsed "iv:tag:ciphertext" triple.
type blob struct {
	iv, tag, ct []byte
}

// parseBlob splits an encrypted value. ok is false when the value is not an
// encrypted triple at all and should be passed through unchanged.
func parseBlob(s string) (b blob, ok bool, err error) {
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return blob{}, false, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return blob{}, false, nil
	}

	// An empty plaintext seals to an empty ciphertext part.
	if parts[0] == "" || parts[1] == "" || !hexPattern.MatchString(parts[0]) ||
		!hexPattern.MatchString(parts[1]) || !hexPattern.MatchString(parts[2]) {
		return blob{}, true, ErrInvalidFormat
	}

	var decoded [3][]byte
	for i, p := range parts {
		raw, err := hex.DecodeString(p)
		if err != nil {
			return blob{}, true, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		decoded[i] = raw
	}
	return blob{iv: decoded[0], tag: decoded[1], ct: decoded[2]}, true, nil
}

func decryptWithKey(key []byte, b blob) (string, error) {
	if len(b.iv) != ivSize || len(b.tag) != tagSize {
		return "", fmt.Errorf("%w: iv %d bytes, tag %d bytes", ErrCorrupted, len(b.iv), len(b.tag))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	sealed := make([]byte, 0, len(b.ct)+len(b.tag))
	sealed = append(sealed, b.ct...)
	sealed = append(sealed, b.tag...)
	plain, err := gcm.Open(nil, b.iv, sealed, nil)
	if err != nil {
		return "", ErrAuthentication
	}
	return string(plain), nil
}
