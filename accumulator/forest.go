package accumulator

import (
	"fmt"
	"sync"
)

// Forest is the full participant: it stores every node of every tree, so it
// can generate membership proofs and compute deletions authoritatively.  The
// compact root sequence it exposes is always derivable from the store.
//
// All mutation happens under a writer lock; Prove, VerifyProof and Roots run
// under a reader lock, so proof generation always sees a settled forest and
// never races a deletion's leaf swap.
type Forest struct {
	mtx sync.RWMutex

	// numLeaves is the count of accumulated leaves.  Its binary
	// representation is the forest's shape: a tree of height k exists
	// exactly when bit k is set.
	numLeaves uint64

	data   ForestData
	hasher Hasher

	// positionMap finds a leaf's current position from its hash.  Leaves
	// move on every carry and borrow, so this is maintained on every
	// bottom-row write.
	positionMap map[MiniHash]Position

	// HistoricHashes counts how many parent hashes this forest has ever
	// computed.  Meant for testing / benchmarking.
	HistoricHashes uint64
}

// NewForest returns a Forest over the given store.  A nil store means ram; a
// nil hasher means DefaultHasher.
func NewForest(data ForestData, hasher Hasher) *Forest {
	if data == nil {
		data = NewRamForestData()
	}
	if hasher == nil {
		hasher = DefaultHasher
	}
	return &Forest{
		data:        data,
		hasher:      hasher,
		positionMap: make(map[MiniHash]Position),
	}
}

// NumLeaves returns how many leaves the forest currently holds.
func (f *Forest) NumLeaves() uint64 {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	return f.numLeaves
}

// Roots returns the accumulator's compact state: the root of each tree,
// tallest tree first.
func (f *Forest) Roots() ([]Root, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	return f.roots()
}

func (f *Forest) roots() ([]Root, error) {
	shape := ForestShape(f.numLeaves)
	roots := make([]Root, len(shape))
	for i, h := range shape {
		hash, err := f.data.read(rootPosition(h))
		if err != nil {
			return nil, err
		}
		roots[i] = Root{Height: h, Hash: hash}
	}
	return roots, nil
}

// Close releases the underlying store.
func (f *Forest) Close() error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.data.close()
}

// Add accumulates one leaf.  The leaf starts as a new height-0 tree at the
// right edge of the forest; while two trees share a height they merge into
// one a row taller, the same way a carry propagates when incrementing a
// binary counter.  Add never touches the position of any leaf outside the
// merged trees and never fails under normal operation.
func (f *Forest) Add(leaf Hash) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if leaf == empty {
		return fmt.Errorf("can't add empty (all 0s) leaf to accumulator")
	}
	if f.numLeaves == uint64(1)<<maxForestHeight {
		return fmt.Errorf("%w: forest is full", ErrOutOfRange)
	}

	bits := f.numLeaves
	err := f.carryInsert(newLeafBuf(leaf), &bits)
	if err != nil {
		return err
	}
	f.numLeaves++
	log.Tracef("added leaf %x, %d leaves", leaf.Prefix(), f.numLeaves)
	return nil
}

// Remove deletes the leaf at the given position, authorized by the given
// proof.  It returns the root sequence for the shrunken forest.  On any
// error the forest is exactly as it was before the call.
func (f *Forest) Remove(pos Position, proof Proof) ([]Root, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if err := f.verifyRemoval(pos, proof); err != nil {
		return nil, err
	}
	if err := f.removeAt(pos, proof.Payload); err != nil {
		return nil, err
	}
	return f.roots()
}

// verifyRemoval checks a (position, proof) pair against the current forest
// without mutating anything.
func (f *Forest) verifyRemoval(pos Position, proof Proof) error {
	if err := checkLeafPosition(f.numLeaves, pos); err != nil {
		return err
	}
	if proof.Position != pos {
		return fmt.Errorf("%w: proof is for %v, not %v",
			ErrProofInvalid, proof.Position, pos)
	}
	roots, err := f.roots()
	if err != nil {
		return err
	}
	return VerifyProof(f.hasher, roots, proof)
}

// removeAt deletes the leaf at pos.  Callers have already verified the
// authorizing proof; from here on every error is an internal consistency
// violation.
func (f *Forest) removeAt(pos Position, payload Hash) error {
	h := pos.Tree
	delete(f.positionMap, payload.Mini())

	if h == 0 {
		// a height-0 tree is just the leaf; the tree vanishes.
		f.data.dropTree(0)
		f.numLeaves--
		return nil
	}

	lastOff := uint64(1)<<h - 1
	if pos.Off != lastOff {
		// Leaf swap: relocate the tree's rightmost leaf into the
		// vacated slot and rehash the path above it.  The path only
		// needs recomputing up to the root of the borrow piece the
		// slot falls in; everything above that is rightmost spine,
		// which the split below discards.
		last, err := f.data.read(Position{Tree: h, Row: 0, Off: lastOff})
		if err != nil {
			return err
		}
		f.data.write(pos, last)
		f.positionMap[last.Mini()] = pos
		f.data.prune(Position{Tree: h, Row: 0, Off: lastOff})

		k := swapPiece(pos.Off, h)
		v, off := last, pos.Off
		for r := uint8(0); r < k; r++ {
			sib, err := f.data.read(Position{Tree: h, Row: r, Off: off ^ 1})
			if err != nil {
				return err
			}
			if off&1 == 0 {
				v = f.parentHash(v, sib)
			} else {
				v = f.parentHash(sib, v)
			}
			off >>= 1
			f.data.write(Position{Tree: h, Row: r + 1, Off: off}, v)
		}
	} else {
		f.data.prune(pos)
	}

	// Borrow: split the tree along its rightmost spine into pieces of
	// heights h-1 down to 0 and re-merge them with the shorter trees,
	// mirroring borrow propagation when decrementing a binary counter.
	pieces := make([]*treeBuf, 0, h)
	for r := int(h) - 1; r >= 0; r-- {
		piece, err := f.extractPiece(h, uint8(r))
		if err != nil {
			return err
		}
		pieces = append(pieces, piece)
	}
	f.data.dropTree(h)
	bits := f.numLeaves &^ (uint64(1) << h)
	f.numLeaves--

	for _, piece := range pieces {
		if err := f.carryInsert(piece, &bits); err != nil {
			return err
		}
	}
	if bits != f.numLeaves {
		return fmt.Errorf("%w: borrow left shape %b, want %b",
			ErrMissingNode, bits, f.numLeaves)
	}
	log.Tracef("removed leaf %x at %v, %d leaves", payload.Prefix(), pos, f.numLeaves)
	return nil
}

// parentHash combines two child hashes, panicking on empties: an empty child
// means the shape invariant was already broken by a prior bug.
func (f *Forest) parentHash(l, r Hash) Hash {
	if l == empty || r == empty {
		panic("got an empty child hash")
	}
	f.HistoricHashes++
	return f.hasher.HashParent(l, r)
}

// treeBuf is one whole tree held in memory while the carry and borrow loops
// restructure the forest.  rows[r] holds row r left to right; rows[height]
// is the single root.
type treeBuf struct {
	height uint8
	rows   [][]Hash
}

func newLeafBuf(leaf Hash) *treeBuf {
	return &treeBuf{height: 0, rows: [][]Hash{{leaf}}}
}

func (b *treeBuf) root() Hash {
	return b.rows[b.height][0]
}

// mergeBufs joins two equal height trees into one a row taller.  Only the
// new root is hashed; the children's nodes just concatenate row by row.
func (f *Forest) mergeBufs(left, right *treeBuf) *treeBuf {
	h := left.height + 1
	b := &treeBuf{height: h, rows: make([][]Hash, h+1)}
	for r := uint8(0); r <= left.height; r++ {
		row := make([]Hash, 0, len(left.rows[r])*2)
		row = append(row, left.rows[r]...)
		row = append(row, right.rows[r]...)
		b.rows[r] = row
	}
	b.rows[h] = []Hash{f.parentHash(left.root(), right.root())}
	return b
}

// loadTree pulls the whole tree at the given height out of the store.
func (f *Forest) loadTree(tree uint8) (*treeBuf, error) {
	b := &treeBuf{height: tree, rows: make([][]Hash, tree+1)}
	for r := uint8(0); r <= tree; r++ {
		width := rowWidth(tree, r)
		row := make([]Hash, width)
		for off := uint64(0); off < width; off++ {
			h, err := f.data.read(Position{Tree: tree, Row: r, Off: off})
			if err != nil {
				return nil, err
			}
			row[off] = h
		}
		b.rows[r] = row
	}
	return b, nil
}

// storeTree writes a buffered tree into its height slot and points the
// position map at the leaves' new homes.
func (f *Forest) storeTree(b *treeBuf) {
	for r := uint8(0); r <= b.height; r++ {
		for off, h := range b.rows[r] {
			f.data.write(Position{Tree: b.height, Row: r, Off: uint64(off)}, h)
		}
	}
	for off, h := range b.rows[0] {
		f.positionMap[h.Mini()] = Position{Tree: b.height, Row: 0, Off: uint64(off)}
	}
}

// extractPiece copies the height-r sibling of the rightmost spine out of the
// height-h tree.  Row q of the piece sits at global offsets starting at
// pieceStart(h, r) >> q.
func (f *Forest) extractPiece(h, r uint8) (*treeBuf, error) {
	start := pieceStart(h, r)
	b := &treeBuf{height: r, rows: make([][]Hash, r+1)}
	for q := uint8(0); q <= r; q++ {
		width := rowWidth(r, q)
		row := make([]Hash, width)
		base := start >> q
		for i := uint64(0); i < width; i++ {
			hash, err := f.data.read(Position{Tree: h, Row: q, Off: base + i})
			if err != nil {
				return nil, err
			}
			row[i] = hash
		}
		b.rows[q] = row
	}
	return b, nil
}

// carryInsert places a tree into the forest at its height, merging upward
// while the slot is already taken.  bits tracks slot occupancy across a
// whole add or borrow and ends up as the new leaf count.  The occupant is
// always the left child of a merge: it's the older structure.
func (f *Forest) carryInsert(b *treeBuf, bits *uint64) error {
	for *bits>>b.height&1 == 1 {
		left, err := f.loadTree(b.height)
		if err != nil {
			return err
		}
		f.data.dropTree(b.height)
		*bits &^= uint64(1) << b.height
		b = f.mergeBufs(left, b)
	}
	f.storeTree(b)
	*bits |= uint64(1) << b.height
	return nil
}

// sanity checks that the store agrees with the shape invariant: every root
// the shape calls for is present and non-empty.
func (f *Forest) sanity() error {
	for _, h := range ForestShape(f.numLeaves) {
		if _, err := f.data.read(rootPosition(h)); err != nil {
			return fmt.Errorf("forest with %d leaves lacks root at height %d: %v",
				f.numLeaves, h, err)
		}
	}
	if uint64(len(f.positionMap)) > f.numLeaves {
		return fmt.Errorf("positionMap has %d entries but forest has %d leaves",
			len(f.positionMap), f.numLeaves)
	}
	return nil
}

// Stats returns a one-line summary of the forest.
func (f *Forest) Stats() string {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	return fmt.Sprintf("numleaves: %d hashesever: %d posmap: %d store: %d",
		f.numLeaves, f.HistoricHashes, len(f.positionMap), f.data.size())
}

// ToString prints out the whole thing.  Only viable for small forests.
func (f *Forest) ToString() string {
	f.mtx.RLock()
	defer f.mtx.RUnlock()

	if f.numLeaves > 32 {
		return "forest too big to print "
	}
	var s string
	for _, h := range ForestShape(f.numLeaves) {
		s += fmt.Sprintf("tree h%d:\n", h)
		for r := int(h); r >= 0; r-- {
			s += fmt.Sprintf("  r%d:", r)
			for off := uint64(0); off < rowWidth(h, uint8(r)); off++ {
				v, err := f.data.read(Position{Tree: h, Row: uint8(r), Off: off})
				if err != nil {
					s += " ----"
					continue
				}
				s += fmt.Sprintf(" %x", v[:2])
			}
			s += "\n"
		}
	}
	return s
}
