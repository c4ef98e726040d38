package vault

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidFormat is returned for a three-part blob whose parts are not hex.
	ErrInvalidFormat = errors.New("invalid encrypted data format")
	// ErrCorrupted is returned when the IV or tag has the wrong length.
	ErrCorrupted = errors.New("corrupted encrypted data")
	// ErrAuthentication is returned when the GCM tag does not verify.
	ErrAuthentication = errors.New("authentication tag mismatch")
	// ErrNotFound is returned by a backend that holds no master key yet.
	ErrNotFound = errors.New("master key not found")
	// ErrUnavailable is returned when a stored key exists but cannot be
	// opened. The backend must not be overwritten with a new key.
	ErrUnavailable = errors.New("master key unavailable")
	// ErrInsecurePermissions is returned when a key file is readable by group or others.
	ErrInsecurePermissions = errors.New("key file has insecure permissions")
)

// Error codes and remediation hints surfaced to operators.
const (
	CodeKeychainUnavailable = "ERR_KEYCHAIN_UNAVAILABLE"
	CodeDataMigrationFailed = "ERR_DATA_MIGRATION_FAILED"

	HintAppTranslocation = "HINT_APP_TRANSLOCATION"
	HintKeychainDenied   = "HINT_KEYCHAIN_DENIED"
	HintSignNotarize     = "HINT_SIGN_NOTARIZE"
	HintRelogin          = "HINT_RELOGIN"
)

// Error is a coded vault failure. Its message is "CODE" or "CODE|HINT".
type Error struct {
	Code string
	Hint string
	Err  error
}

func (e *Error) Error() string {
	if e.Hint == "" {
		return e.Code
	}
	return e.Code + "|" + e.Hint
}

func (e *Error) Unwrap() error { return e.Err }

// keychainHint picks a remediation hint for a failed key acquisition. Hints
// only exist for darwin.
func keychainHint(goos, appPath string, err error) string {
	if goos != "darwin" {
		return ""
	}
	if strings.Contains(appPath, "/AppTranslocation/") {
		return HintAppTranslocation
	}
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "keychain") {
		return HintKeychainDenied
	}
	return HintSignNotarize
}
