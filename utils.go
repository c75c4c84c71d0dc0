package frost

import (
	"crypto/subtle"
	"encoding/binary"
	"runtime"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TaggedHash computes the BIP-340 tagged hash SHA256(SHA256(tag) || SHA256(tag) || data...).
func TaggedHash(tag string, data ...[]byte) []byte {
	h := chainhash.TaggedHash([]byte(tag), data...)
	return h[:]
}

// HashToScalar hashes data under a domain tag and reduces it to a scalar.
func HashToScalar(curve Curve, tag string, data ...[]byte) Scalar {
	// 32 bytes always satisfies ScalarFromUniformBytes
	s, _ := curve.ScalarFromUniformBytes(TaggedHash(tag, data...))
	return s
}

// lengthPrefixed prepends a 4 byte big-endian length to avoid transcript ambiguity.
func lengthPrefixed(data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(out, uint32(len(data)))
	copy(out[4:], data)
	return out
}

func participantBytes(id ParticipantIndex) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return b[:]
}

// SecureCompare performs constant-time comparison of byte slices
func SecureCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ZeroizeBytes securely clears a byte slice
func ZeroizeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}

// ZeroizeScalars clears every non-nil scalar
func ZeroizeScalars(scalars ...Scalar) {
	for _, s := range scalars {
		if s != nil {
			s.Zeroize()
		}
	}
}
