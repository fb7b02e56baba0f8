package accumulator

import (
	sha256 "github.com/minio/sha256-simd"
	"golang.org/x/crypto/blake2b"
)

// Hasher is the hashing primitive the accumulator is built on.  It has to be
// deterministic and collision resistant; beyond that the accumulator doesn't
// care which function is plugged in, as long as every participant agrees.
type Hasher interface {
	// HashLeaf maps arbitrary item bytes to a leaf digest.
	HashLeaf(data []byte) Hash

	// HashParent combines two child digests into their parent digest.
	// Not commutative; left and right order matters.
	HashParent(left, right Hash) Hash
}

// DefaultHasher is what Forest and Pollard use when constructed with a nil
// Hasher.
var DefaultHasher Hasher = Sha256Hasher{}

// Sha256Hasher hashes with sha256.
type Sha256Hasher struct{}

// HashLeaf returns the sha256 of the given bytes.
func (Sha256Hasher) HashLeaf(data []byte) Hash {
	return sha256.Sum256(data)
}

// HashParent returns the sha256 of the left digest concatenated with the
// right digest.
func (Sha256Hasher) HashParent(left, right Hash) Hash {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return sha256.Sum256(buf[:])
}

// Domain prefixes for Blake2b256Hasher.  Tagging leaves and parents
// differently prevents a second-preimage attack where an internal node is
// presented as a leaf.
const (
	blakeLeafTag   = 0x00
	blakeParentTag = 0x01
)

// Blake2b256Hasher hashes with blake2b-256, with a one byte domain tag
// separating leaf hashes from parent hashes.
type Blake2b256Hasher struct{}

// HashLeaf returns the tagged blake2b-256 of the given bytes.
func (Blake2b256Hasher) HashLeaf(data []byte) Hash {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{blakeLeafTag})
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashParent returns the tagged blake2b-256 of the two child digests.
func (Blake2b256Hasher) HashParent(left, right Hash) Hash {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{blakeParentTag})
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HashFromString takes a string and hashes it with sha256.
func HashFromString(s string) Hash {
	return sha256.Sum256([]byte(s))
}
