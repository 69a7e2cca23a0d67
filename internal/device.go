package internal

import (
	"crypto/subtle"
	"strings"
)

// DeviceFingerprint derives the trusted-device fingerprint from the client's
// user-agent and IP. Both inputs are trimmed; an empty pair still hashes so
// the comparison stays constant-time.
func DeviceFingerprint(userAgent, clientIP string) string {
	return HashToken(strings.TrimSpace(userAgent) + "|" + strings.TrimSpace(clientIP))
}

// EqualHash compares two hex digests in constant time.
func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
