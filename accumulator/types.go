package accumulator

import (
	"errors"
	"fmt"
)

// Hash is the 32 bytes of a hash digest.
type Hash [32]byte

// Prefix for printfs
func (h Hash) Prefix() []byte {
	return h[:4]
}

// Mini takes the first 12 slices of a hash and outputs a MiniHash
func (h Hash) Mini() (m MiniHash) {
	copy(m[:], h[:12])
	return
}

// MiniHash is the first 12 bytes of a hash, used as a position map key.
type MiniHash [12]byte

// empty is the all-zero hash; it marks never-written and pruned slots in a
// ForestData store.  Leaves that hash to all zeros can't be accumulated.
var empty Hash

// Position addresses one node slot in the forest.  Because the forest never
// holds two trees of the same height, a tree is identified by its height.
// Off is the offset within the row; a tree of height h has rows 0 (leaves)
// through h (root), and row r holds 2^(h-r) nodes.
type Position struct {
	Tree uint8  // height of the tree the node lives in
	Row  uint8  // 0 is the leaf row
	Off  uint64 // offset within the row, from the left
}

func (p Position) String() string {
	return fmt.Sprintf("(t%d r%d o%d)", p.Tree, p.Row, p.Off)
}

// Root is one entry of the accumulator's compact state: the root hash of the
// tree at the given height.
type Root struct {
	Height uint8
	Hash   Hash
}

// Error kinds surfaced by the accumulator.  Proof verification failures are
// always returned, never conflated with non-membership.
var (
	// ErrProofInvalid means a recomputed root did not match the stored
	// root, or the proof is structurally unusable.  The caller should
	// fetch a fresh proof.
	ErrProofInvalid = errors.New("proof invalid")

	// ErrOutOfRange means a position isn't addressable with the current
	// leaf count; it indicates caller misuse.
	ErrOutOfRange = errors.New("position out of range")

	// ErrStaleProof means a stateless participant got a proof built
	// against a root sequence it no longer holds.  Recoverable by
	// re-fetching a proof for the current roots.
	ErrStaleProof = errors.New("stale proof")

	// ErrMissingNode means the forest store lacks a node that the shape
	// invariant says must exist.  This is an internal consistency
	// violation, not a recoverable condition.
	ErrMissingNode = errors.New("missing node")
)
