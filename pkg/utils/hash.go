package utils

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// ContentChecksum computes the BLAKE3-256 digest of a media payload.
func ContentChecksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
