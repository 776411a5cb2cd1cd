package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateOpaqueToken returns a URL-safe random token with byteLen bytes of
// entropy. Used for refresh tokens and registration QR codes.
func GenerateOpaqueToken(byteLen int) (string, error) {
	if byteLen <= 0 {
		return "", fmt.Errorf("byteLen must be positive")
	}
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
