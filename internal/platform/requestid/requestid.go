// Package requestid generates opaque per-request identifiers.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// New returns a random 32-character hex identifier.
func New() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
