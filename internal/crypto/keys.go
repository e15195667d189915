package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key purposes derived from the configured session secret
const (
	PurposeCookieSigning = "prima-front cookie signing"
	PurposeCSRF          = "prima-front csrf"
	PurposeStorage       = "prima-front storage encryption"
)

// MinSecretLength is the shortest session secret accepted by config validation
const MinSecretLength = 32

// DeriveKey expands the session secret into an independent 32-byte key for
// the given purpose, so one configured secret never doubles as two keys.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}
	return key, nil
}
