package accumulator

import (
	"fmt"
	"sync"
)

// Pollard is the stateless participant: it holds only the root hashes, one
// slot per tree height, and a leaf count.  It applies the same adds a Forest
// does, and applies removals from proofs alone, so it tracks a Forest's root
// sequence exactly while holding O(log n) state.
type Pollard struct {
	mtx sync.RWMutex

	numLeaves uint64
	hasher    Hasher

	// roots[h] is the root of the height-h tree; it's only meaningful
	// while bit h of numLeaves is set.
	roots [maxForestHeight + 1]Hash
}

// NewPollard returns an empty Pollard.  A nil hasher means DefaultHasher.
func NewPollard(hasher Hasher) *Pollard {
	if hasher == nil {
		hasher = DefaultHasher
	}
	return &Pollard{hasher: hasher}
}

// NumLeaves returns how many leaves the accumulator currently holds.
func (p *Pollard) NumLeaves() uint64 {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.numLeaves
}

// Roots returns the compact state, tallest tree first.
func (p *Pollard) Roots() []Root {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.rootSeq()
}

func (p *Pollard) rootSeq() []Root {
	shape := ForestShape(p.numLeaves)
	roots := make([]Root, len(shape))
	for i, h := range shape {
		roots[i] = Root{Height: h, Hash: p.roots[h]}
	}
	return roots
}

// Add accumulates one leaf: the root-slot flavor of the binary counter
// increment.  Identical hash math to Forest.Add, minus the store.
func (p *Pollard) Add(leaf Hash) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if leaf == empty {
		return fmt.Errorf("can't add empty (all 0s) leaf to accumulator")
	}
	if p.numLeaves == uint64(1)<<maxForestHeight {
		return fmt.Errorf("%w: accumulator is full", ErrOutOfRange)
	}

	v := leaf
	h := uint8(0)
	for ; p.numLeaves>>h&1 == 1; h++ {
		v = p.hasher.HashParent(p.roots[h], v)
	}
	p.roots[h] = v
	p.numLeaves++
	return nil
}

// Verify checks a membership proof against the current roots.
func (p *Pollard) Verify(pr Proof) error {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return VerifyProof(p.hasher, p.rootSeq(), pr)
}

// ApplyRemove deletes the proven leaf and returns the new root sequence,
// computed from the proof and the old roots alone.  It fails with
// ErrStaleProof when the proof's tree height no longer exists in the current
// shape (the proof predates a carry that merged that tree away); the caller
// should fetch a fresh proof.  On any error the Pollard is unchanged.
func (p *Pollard) ApplyRemove(pr Proof) ([]Root, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	h := pr.Position.Tree
	if h > maxForestHeight || pr.Position.Row != 0 ||
		pr.Position.Off >= uint64(1)<<h {
		return nil, fmt.Errorf("%w: %v", ErrOutOfRange, pr.Position)
	}
	if p.numLeaves>>h&1 == 0 {
		return nil, fmt.Errorf("%w: no tree of height %d with %d leaves",
			ErrStaleProof, h, p.numLeaves)
	}
	if err := VerifyProof(p.hasher, p.rootSeq(), pr); err != nil {
		return nil, err
	}

	if h == 0 {
		p.numLeaves--
		return p.rootSeq(), nil
	}

	// The roots of the borrow pieces.  Deleting a leaf splits its tree
	// along the rightmost spine, whose siblings are exactly the
	// relocation branch; the one piece the target sits in is recomputed
	// with the relocated (rightmost) leaf standing in the target's slot.
	lastOff := uint64(1)<<h - 1
	pieces := make([]Hash, h)
	if pr.Position.Off == lastOff {
		// the target is the rightmost leaf; its own siblings are the
		// pieces and no swap happens.
		copy(pieces, pr.Siblings)
	} else {
		if pr.Relocation == nil {
			return nil, fmt.Errorf(
				"%w: removal of non-rightmost leaf needs a relocation branch",
				ErrProofInvalid)
		}
		copy(pieces, pr.Relocation.Siblings)
		k := swapPiece(pr.Position.Off, h)
		pieces[k] = foldUp(p.hasher, pr.Relocation.Payload,
			pr.Position.Off, pr.Siblings[:k])
	}

	// Borrow: carry each piece into the root slots, tallest piece first,
	// with the same left/right convention the carry on Add uses.
	bits := p.numLeaves &^ (uint64(1) << h)
	for r := int(h) - 1; r >= 0; r-- {
		v := pieces[r]
		rr := uint8(r)
		for bits>>rr&1 == 1 {
			v = p.hasher.HashParent(p.roots[rr], v)
			bits &^= uint64(1) << rr
			rr++
		}
		p.roots[rr] = v
		bits |= uint64(1) << rr
	}
	p.numLeaves--
	if bits != p.numLeaves {
		// can't happen: the pieces sum to 2^h - 1 leaves
		panic(fmt.Sprintf("borrow left shape %b, want %b", bits, p.numLeaves))
	}
	return p.rootSeq(), nil
}

// ApplyBatch applies removals one at a time.  Each proof has to be valid at
// the moment it's applied; when several removals touch the same tree, fetch
// the later proofs from a full participant that has already processed the
// earlier ones.
//
// A failure partway through leaves the earlier removals applied.  The error
// names the index of the proof that failed, and NumLeaves tells the caller
// how many removals stuck.
func (p *Pollard) ApplyBatch(proofs []Proof) ([]Root, error) {
	var roots []Root
	var err error
	for i, pr := range proofs {
		roots, err = p.ApplyRemove(pr)
		if err != nil {
			return nil, fmt.Errorf("batch removal %d of %d: %w",
				i, len(proofs), err)
		}
	}
	if roots == nil {
		roots = p.Roots()
	}
	return roots, nil
}
