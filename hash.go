// Digest algorithms for integrity checks.
//
// Digests cover the directory allocator's metadata file and the
// snapshot container. Layer payload bytes are never checksummed; the
// layer format is raw frames and corruption there surfaces as framing
// errors, not digest mismatches.
package strata

import (
	"fmt"
	"hash"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// Digest algorithm constants, selectable via Config.Checksum.
const (
	AlgXXH3    = 1 // Default, fastest
	AlgFNV1a   = 2 // No external dependencies
	AlgBlake2b = 3 // Best distribution
)

// newDigest returns a streaming 64-bit hash for the given algorithm.
// Unknown algorithms fall back to the default.
func newDigest(alg int) hash.Hash {
	switch alg {
	case AlgFNV1a:
		return fnv.New64a()
	case AlgBlake2b:
		h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
		return h
	default:
		return xxh3.New()
	}
}

// digest hashes data to 16 hex characters with the given algorithm.
func digest(data []byte, alg int) string {
	h := newDigest(alg)
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum(nil))
}
