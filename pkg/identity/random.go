package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// MinRandomBytes is the minimum entropy required for nonces and
// tokens (challenges, session tokens).
const MinRandomBytes = 32

// RandomBase64 returns n cryptographically random bytes, base64url
// encoded without padding. n must be at least MinRandomBytes.
func RandomBase64(n int) (string, error) {
	if n < MinRandomBytes {
		return "", fmt.Errorf("identity: random_base64 requires at least %d bytes, got %d", MinRandomBytes, n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
