// Package secret produces URL-safe random strings for session keys, API key
// secrets and token signing secrets.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// DefaultSize yields 60 random bytes encoded as 80 characters.
const DefaultSize = 20

var reader io.Reader = rand.Reader

// Generate draws 3*size bytes from the system CSPRNG and encodes them with the
// URL-safe base64 alphabet. The result is exactly 4*size characters long and
// never padded.
func Generate(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("secret size must be positive, got %d", size)
	}

	buf := make([]byte, 3*size)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	return base64.URLEncoding.EncodeToString(buf), nil
}

// Decode reverses Generate.
func Decode(value string) ([]byte, error) {
	return base64.URLEncoding.DecodeString(value)
}
