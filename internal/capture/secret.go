package capture

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// secretBytes is the amount of randomness in a session secret. 32 bytes
// encode to 43 base64url characters, all safe inside a query string.
const secretBytes = 32

// generateSecret returns a fresh base64url-encoded random string.
func generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// secretsEqual compares in constant time. An empty candidate never matches.
func secretsEqual(want, got string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
