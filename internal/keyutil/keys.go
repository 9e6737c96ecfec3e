package keyutil

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// maxSegment is the longest segment kept verbatim; longer ones are digested.
const maxSegment = 64

// Digest returns a short deterministic hash of the sorted parts.
func Digest(parts ...string) string {
	s := make([]string, len(parts))
	copy(s, parts)
	sort.Strings(s)
	sum := sha256.Sum256([]byte(strings.Join(s, ",")))
	return hex.EncodeToString(sum[:8])
}

// Segment keeps short segments readable and digests long ones so keys stay
// bounded. Colons are replaced so a segment never splits into two.
func Segment(s string) string {
	if len(s) > maxSegment {
		return "h" + Digest(s)
	}
	return strings.ReplaceAll(s, ":", "_")
}
