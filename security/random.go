package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Minimum entropy, in random bytes, of issued artifacts.
const (
	MinAuthorizationCodeBytes = 16
	MinAccessTokenBytes       = 256
)

// MaxArtifactLength is the longest encoded code or token any store accepts.
// MaxArtifactBytes random bytes encode to exactly that many characters.
const (
	MaxArtifactLength = 512
	MaxArtifactBytes  = MaxArtifactLength / 4 * 3
)

// GenerateToken returns n bytes from crypto/rand encoded as unpadded base64url.
func GenerateToken(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", n)
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
