package accumulator

import "fmt"

// Proof shows that a leaf sits at a position: the sibling hashes from the
// leaf's row up to its tree's root.  Proofs are immutable value objects; they
// carry no reference back to the forest that produced them and can be handed
// to any participant holding the same roots.
type Proof struct {
	Position Position // where at the bottom of the tree it sits
	Payload  Hash     // hash of the thing itself (what's getting proved)
	Siblings []Hash   // siblings up to the root, bottom row first

	// Relocation is the branch for the tree's rightmost leaf, which a
	// deletion swaps into this leaf's slot.  Present whenever this proof
	// can authorize a removal that needs the swap (the target is not
	// itself the rightmost leaf of a tree taller than 0); holders of only
	// the root sequence can't learn that leaf any other way.
	Relocation *Relocation
}

// Relocation is the rightmost leaf of the proven tree together with its own
// sibling path to the same root.
type Relocation struct {
	Payload  Hash
	Siblings []Hash
}

// foldUp recomputes the root of a height-h tree from a leaf, its offset, and
// its sibling path.  At every row, the child with even offset is the left
// input to the parent hash.
func foldUp(hasher Hasher, leaf Hash, off uint64, siblings []Hash) Hash {
	v := leaf
	for _, sib := range siblings {
		if off&1 == 0 {
			v = hasher.HashParent(v, sib)
		} else {
			v = hasher.HashParent(sib, v)
		}
		off >>= 1
	}
	return v
}

// rootAt finds the root at the given height in a root sequence.
func rootAt(roots []Root, height uint8) (Hash, bool) {
	for _, r := range roots {
		if r.Height == height {
			return r.Hash, true
		}
	}
	return empty, false
}

// VerifyProof checks a proof against a root sequence.  No store is needed;
// this is what a stateless participant runs to accept or reject a removal
// before applying it.  A failure is always surfaced as an error -- a proof
// that doesn't verify says nothing about membership.
func VerifyProof(hasher Hasher, roots []Root, p Proof) error {
	if hasher == nil {
		hasher = DefaultHasher
	}
	h := p.Position.Tree
	if h > maxForestHeight || p.Position.Row != 0 ||
		p.Position.Off >= uint64(1)<<h {
		return fmt.Errorf("%w: %v", ErrOutOfRange, p.Position)
	}
	if len(p.Siblings) != int(h) {
		return fmt.Errorf("%w: %d siblings for a height %d tree",
			ErrProofInvalid, len(p.Siblings), h)
	}

	root, ok := rootAt(roots, h)
	if !ok {
		return fmt.Errorf("%w: no tree of height %d", ErrProofInvalid, h)
	}
	if got := foldUp(hasher, p.Payload, p.Position.Off, p.Siblings); got != root {
		return fmt.Errorf("%w: leaf %x folds to %x, root is %x",
			ErrProofInvalid, p.Payload.Prefix(), got[:4], root[:4])
	}

	if p.Relocation != nil {
		if len(p.Relocation.Siblings) != int(h) {
			return fmt.Errorf("%w: relocation branch has %d siblings for a height %d tree",
				ErrProofInvalid, len(p.Relocation.Siblings), h)
		}
		// the rightmost leaf's offset is all ones
		lastOff := uint64(1)<<h - 1
		if got := foldUp(hasher, p.Relocation.Payload, lastOff,
			p.Relocation.Siblings); got != root {
			return fmt.Errorf("%w: relocation branch folds to %x, root is %x",
				ErrProofInvalid, got[:4], root[:4])
		}
	}
	return nil
}
