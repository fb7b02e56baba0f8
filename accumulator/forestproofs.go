package accumulator

import "fmt"

// Prove builds a membership proof for the leaf at the given position.  Only
// a full participant can do this; it's O(tree height) store reads.  Proofs
// for leaves that aren't the rightmost leaf of their tree come with the
// relocation branch a stateless verifier needs to apply the removal.
func (f *Forest) Prove(pos Position) (Proof, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	return f.prove(pos)
}

func (f *Forest) prove(pos Position) (Proof, error) {
	var pr Proof
	if err := checkLeafPosition(f.numLeaves, pos); err != nil {
		return pr, err
	}

	payload, err := f.data.read(pos)
	if err != nil {
		return pr, err
	}
	pr.Position = pos
	pr.Payload = payload
	pr.Siblings, err = f.siblingBranch(pos.Tree, pos.Off)
	if err != nil {
		return pr, err
	}

	lastOff := uint64(1)<<pos.Tree - 1
	if pos.Tree > 0 && pos.Off != lastOff {
		last := Position{Tree: pos.Tree, Row: 0, Off: lastOff}
		rel := Relocation{}
		rel.Payload, err = f.data.read(last)
		if err != nil {
			return pr, err
		}
		rel.Siblings, err = f.siblingBranch(pos.Tree, lastOff)
		if err != nil {
			return pr, err
		}
		pr.Relocation = &rel
	}
	return pr, nil
}

// siblingBranch reads the sibling path of a leaf offset, bottom row first.
func (f *Forest) siblingBranch(tree uint8, off uint64) ([]Hash, error) {
	branch := make([]Hash, tree)
	for r := uint8(0); r < tree; r++ {
		sib, err := f.data.read(Position{Tree: tree, Row: r, Off: off ^ 1})
		if err != nil {
			return nil, err
		}
		branch[r] = sib
		off >>= 1
	}
	return branch, nil
}

// ProveHash builds a proof for a leaf by its hash, using the position map.
func (f *Forest) ProveHash(wanted Hash) (Proof, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()

	pos, ok := f.positionMap[wanted.Mini()]
	if !ok {
		return Proof{}, fmt.Errorf("hash %x not found", wanted)
	}
	pr, err := f.prove(pos)
	if err != nil {
		return pr, err
	}
	if pr.Payload != wanted {
		return pr, fmt.Errorf(
			"prove: forest and position map conflict. want %x got %x at %v",
			wanted[:4], pr.Payload[:4], pos)
	}
	return pr, nil
}

// VerifyProof checks a proof against this forest's current roots.
func (f *Forest) VerifyProof(p Proof) error {
	f.mtx.RLock()
	defer f.mtx.RUnlock()

	roots, err := f.roots()
	if err != nil {
		return err
	}
	return VerifyProof(f.hasher, roots, p)
}

// FindLeaf reports whether a leaf hash is in the forest.
func (f *Forest) FindLeaf(leaf Hash) bool {
	f.mtx.RLock()
	defer f.mtx.RUnlock()

	_, found := f.positionMap[leaf.Mini()]
	return found
}
