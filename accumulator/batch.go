package accumulator

import (
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// RemoveBatch deletes a set of proven leaves in one call and returns the
// final root sequence.  Every proof is checked against the pre-batch roots
// before anything mutates; one bad proof rejects the whole batch and leaves
// the forest untouched.
//
// Deletions are then resolved into a fixed order -- shortest trees first,
// and within a tree by descending offset -- and applied one at a time, so
// the result is exactly what removing them individually in that order would
// produce.  A leaf swap performed for one deletion can still relocate a
// later target, so each pending target is re-resolved by its hash before its
// turn.
func (f *Forest) RemoveBatch(proofs []Proof) ([]Root, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	if len(proofs) == 0 {
		return f.roots()
	}

	roots, err := f.roots()
	if err != nil {
		return nil, err
	}

	// Verification is pure and each proof is independent, so fan out.
	var eg errgroup.Group
	for i := range proofs {
		pr := proofs[i]
		eg.Go(func() error {
			if err := checkLeafPosition(f.numLeaves, pr.Position); err != nil {
				return err
			}
			return VerifyProof(f.hasher, roots, pr)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Dedupe repeated targets.  Two verified proofs for the same position
	// prove the same payload, so keeping either is fine.
	seen := make(map[Position]bool, len(proofs))
	targets := make([]Proof, 0, len(proofs))
	for _, pr := range proofs {
		if seen[pr.Position] {
			continue
		}
		seen[pr.Position] = true
		targets = append(targets, pr)
	}

	// Resolved order.  Removing from a tree only restructures trees at or
	// below its own height, so going shortest-first keeps the taller
	// trees' pending targets in place; descending offsets within a tree
	// keep a swap from landing on a still-pending slot.
	sort.Slice(targets, func(i, j int) bool {
		a, b := targets[i].Position, targets[j].Position
		if a.Tree != b.Tree {
			return a.Tree < b.Tree
		}
		return a.Off > b.Off
	})

	for _, pr := range targets {
		cur, ok := f.positionMap[pr.Payload.Mini()]
		if !ok {
			return nil, fmt.Errorf("%w: batch target %x vanished",
				ErrMissingNode, pr.Payload.Prefix())
		}
		if err := f.removeAt(cur, pr.Payload); err != nil {
			return nil, err
		}
	}
	log.Debugf("removed batch of %d, %d leaves left", len(targets), f.numLeaves)
	return f.roots()
}
