// Package ident derives content identities used to deduplicate fetched images.
package ident

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Size is the length of an identity string in characters.
const Size = blake2b.Size256 * 2

// Of returns the identity of payload: the hex-encoded BLAKE2b-256 digest of
// the exact bytes received. It is a dedup key, not a security primitive.
func Of(payload []byte) string {
	h := blake2b.Sum256(payload)
	return hex.EncodeToString(h[:])
}
