package privacy

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashWidth is the number of hex characters kept from the digest.
// 64 bits of prefix is collision-resistant at realistic identity
// populations while staying short enough for log lines and keys.
const hashWidth = 16

// HashIdentity maps a raw identity handle to its stable, one-way hash.
// The same input always yields the same output, which is what lets
// moderation state follow a user through anonymization.
func HashIdentity(rawID string) string {
	sum := sha256.Sum256([]byte("user_" + rawID))
	return hex.EncodeToString(sum[:])[:hashWidth]
}

// AnonymousHandle derives the identity handle an anonymized profile is
// stored under.
func AnonymousHandle(hash string) string {
	return "anon_" + hash
}
