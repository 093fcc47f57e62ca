// Package auth gates privileged writes behind a shared secret.
package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader carries the shared secret on write requests.
const AdminKeyHeader = "x-admin-key"

// Authorize reports whether provided matches the configured secret exactly.
// An unset secret denies every request. No trimming or case folding.
//
// The configured secret may be stored as a bcrypt hash instead of plain text.
func Authorize(provided, configured string) bool {
	if configured == "" {
		return false
	}
	if IsHash(configured) {
		if provided == "" {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

// IsHash reports whether a configured secret looks like a bcrypt hash.
func IsHash(configured string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(configured, prefix) {
			return true
		}
	}
	return false
}

// HashKey returns the bcrypt hash to store in place of a plain admin key.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
