package trace

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ComputeTraceHash hashes a canonical trace encoding (see
// ExecutionTrace.CanonicalJSON) with BLAKE3 and returns it hex-encoded.
// Empty input hashes to the empty string.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := blake3.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}
