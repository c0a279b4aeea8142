// Package auth implements the cluster shared-secret token (spec §3
// "Authentication token"): a proof-of-knowledge scheme, not a session key.
// Replay is not defended against and is not a goal.
package auth

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
)

const magic = "pantyhose_server"

// GenerateToken returns the 32-char lowercase hex client_token derived from
// authorKey, per spec §3: md5_hex(author_key || "pantyhose_server" ||
// author_key).
func GenerateToken(authorKey string) string {
	sum := md5.Sum([]byte(authorKey + magic + authorKey))
	return hex.EncodeToString(sum[:])
}

// VerifyToken reports whether token is the expected derivation of
// authorKey. Comparison is constant-time to avoid leaking the secret
// through timing, even though the spec does not call out replay or
// timing-attack resistance as a goal — it costs nothing to get this part
// right.
func VerifyToken(token, authorKey string) bool {
	expected := GenerateToken(authorKey)
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
