package capture

import (
	"crypto/sha256"
	"encoding/hex"
)

// capBody keeps at most maxBytes of body; maxBytes <= 0 keeps everything.
// When it cuts, it also returns the full size and sha256 so the log line
// identifies the original body.
func capBody(body []byte, maxBytes int) (kept []byte, cut bool, size int, digest string) {
	size = len(body)
	if maxBytes <= 0 || size <= maxBytes {
		return body, false, size, ""
	}
	sum := sha256.Sum256(body)
	return body[:maxBytes], true, size, hex.EncodeToString(sum[:])
}
