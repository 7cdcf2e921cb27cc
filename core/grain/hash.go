package grain

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the hex-encoded SHA-256 digest of the payload.
// Evidence hashes and other content fingerprints share this form.
func ContentHash(payload []byte) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}
