// Package sanitize provides identifier sanitization for storage keys.
//
// Session identifiers become file names under the session store directory,
// so they must be restricted to a safe charset before touching the
// filesystem. This prevents path traversal through attacker-chosen ids.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxKeyLength is the maximum length for a storage key.
	MaxKeyLength = 64

	// hashSuffixLength is the length of the hash suffix added to truncated
	// keys. Format: _<8-char-hash> = 9 characters total.
	hashSuffixLength = 9

	// DefaultKey is used when sanitization produces an empty result.
	DefaultKey = "default"
)

// Key sanitizes a string for use as a session storage key.
//
// Rules applied:
//   - Converts to lowercase
//   - Replaces anything outside [a-z0-9_-] with underscores
//   - Collapses multiple underscores
//   - Trims leading/trailing underscores
//   - Truncates to MaxKeyLength with a hash suffix if too long
//   - Returns DefaultKey if the result would be empty
//
// Examples:
//
//	"../../etc/passwd" -> "etc_passwd"
//	"My Session!"      -> "my_session"
//	"" or "!!!"        -> "default"
func Key(s string) string {
	if s == "" {
		return DefaultKey
	}

	s = strings.ToLower(s)

	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			result.WriteRune(r)
		} else {
			result.WriteRune('_')
		}
	}

	sanitized := result.String()
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")

	if sanitized == "" {
		return DefaultKey
	}

	if len(sanitized) > MaxKeyLength {
		sanitized = truncateWithHash(sanitized)
	}

	return sanitized
}

// truncateWithHash truncates a key to fit within MaxKeyLength, appending a
// hash suffix so distinct long ids stay distinct.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	hashSuffix := "_" + hex.EncodeToString(hash[:])[:8]

	maxBase := MaxKeyLength - hashSuffixLength
	truncated := strings.TrimRight(s[:maxBase], "_")

	return truncated + hashSuffix
}
