package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the hex sha256 of an artifact's content. Analyses store
// it so a later run can tell which artifacts changed.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
