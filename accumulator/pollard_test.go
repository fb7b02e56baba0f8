package accumulator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPollardFollowsForest runs a simulated chain through a full forest and
// a roots-only pollard side by side; their root sequences have to agree
// after every block.
func TestPollardFollowsForest(t *testing.T) {
	f := NewForest(nil, nil)
	p := NewPollard(nil)
	sc := NewSimChain(0x0f)

	for b := 0; b < 150; b++ {
		adds, delHashes := sc.NextBlock(7)

		for _, del := range delHashes {
			pr, err := f.ProveHash(del)
			require.NoError(t, err)

			// the pollard goes first: it only has the proof
			_, err = p.ApplyRemove(pr)
			require.NoError(t, err, "block %d", b)
			_, err = f.Remove(pr.Position, pr)
			require.NoError(t, err, "block %d", b)
		}
		for _, add := range adds {
			require.NoError(t, f.Add(add))
			require.NoError(t, p.Add(add))
		}

		require.Equal(t, f.NumLeaves(), p.NumLeaves(), "block %d", b)
		fr, err := f.Roots()
		require.NoError(t, err)
		require.Equal(t, fr, p.Roots(), "block %d", b)
	}
}

// TestPollardVerify checks that the pollard accepts forest proofs and uses
// them to gate removals.
func TestPollardVerify(t *testing.T) {
	f := NewForest(nil, nil)
	p := NewPollard(nil)
	leaves := make([]Hash, 9)
	for i := range leaves {
		leaves[i] = HashFromString(fmt.Sprintf("leaf %d", i))
		require.NoError(t, f.Add(leaves[i]))
		require.NoError(t, p.Add(leaves[i]))
	}

	pr, err := f.ProveHash(leaves[4])
	require.NoError(t, err)
	require.NoError(t, p.Verify(pr))

	bad := pr
	bad.Payload[0] ^= 1
	require.ErrorIs(t, p.Verify(bad), ErrProofInvalid)
	_, err = p.ApplyRemove(bad)
	require.ErrorIs(t, err, ErrProofInvalid)

	// the failed removal changed nothing
	require.Equal(t, uint64(9), p.NumLeaves())
	require.NoError(t, p.Verify(pr))
}

// TestPollardStaleProof builds a proof, lets a later add merge the proven
// tree away, and checks the pollard calls the proof stale rather than
// invalid.
func TestPollardStaleProof(t *testing.T) {
	f := NewForest(nil, nil)
	p := NewPollard(nil)

	// 3 leaves: trees of heights 1 and 0
	leaves := make([]Hash, 3)
	for i := range leaves {
		leaves[i] = HashFromString(fmt.Sprintf("leaf %d", i))
		require.NoError(t, f.Add(leaves[i]))
		require.NoError(t, p.Add(leaves[i]))
	}
	pr, err := f.ProveHash(leaves[2]) // the lone height-0 tree
	require.NoError(t, err)

	// the fourth add merges the height-0 tree away
	fourth := HashFromString("leaf 3")
	require.NoError(t, f.Add(fourth))
	require.NoError(t, p.Add(fourth))

	_, err = p.ApplyRemove(pr)
	require.ErrorIs(t, err, ErrStaleProof)

	// a fresh proof for the same leaf works
	fresh, err := f.ProveHash(leaves[2])
	require.NoError(t, err)
	_, err = p.ApplyRemove(fresh)
	require.NoError(t, err)
	_, err = f.Remove(fresh.Position, fresh)
	require.NoError(t, err)

	fr, err := f.Roots()
	require.NoError(t, err)
	require.Equal(t, fr, p.Roots())
}

// TestPollardNeedsRelocation strips the relocation branch off a proof for a
// non-rightmost leaf; the pollard can verify membership but can't apply the
// removal.
func TestPollardNeedsRelocation(t *testing.T) {
	f := NewForest(nil, nil)
	p := NewPollard(nil)
	for i := 0; i < 4; i++ {
		leaf := HashFromString(fmt.Sprintf("leaf %d", i))
		require.NoError(t, f.Add(leaf))
		require.NoError(t, p.Add(leaf))
	}

	pr, err := f.ProveHash(HashFromString("leaf 1"))
	require.NoError(t, err)
	require.NotNil(t, pr.Relocation)

	pr.Relocation = nil
	require.NoError(t, p.Verify(pr))
	_, err = p.ApplyRemove(pr)
	require.ErrorIs(t, err, ErrProofInvalid)
	require.Equal(t, uint64(4), p.NumLeaves())
}

func TestPollardApplyBatch(t *testing.T) {
	f := NewForest(nil, nil)
	p := NewPollard(nil)
	leaves := make([]Hash, 16)
	for i := range leaves {
		leaves[i] = HashFromString(fmt.Sprintf("leaf %d", i))
		require.NoError(t, f.Add(leaves[i]))
		require.NoError(t, p.Add(leaves[i]))
	}

	// each proof is fetched from a forest that has applied the earlier
	// removals, so it's fresh at the moment the pollard applies it
	var proofs []Proof
	for _, del := range []Hash{leaves[3], leaves[10], leaves[11]} {
		pr, err := f.ProveHash(del)
		require.NoError(t, err)
		proofs = append(proofs, pr)
		_, err = f.Remove(pr.Position, pr)
		require.NoError(t, err)
	}

	roots, err := p.ApplyBatch(proofs)
	require.NoError(t, err)
	fr, err := f.Roots()
	require.NoError(t, err)
	require.Equal(t, fr, roots)
}

// TestPollardApplyBatchPartialFailure checks what a caller can see when a
// batch dies partway: earlier removals stay applied, the error carries the
// failing proof's index and underlying kind, and NumLeaves reports how many
// removals stuck.
func TestPollardApplyBatchPartialFailure(t *testing.T) {
	f := NewForest(nil, nil)
	p := NewPollard(nil)
	leaves := make([]Hash, 8)
	for i := range leaves {
		leaves[i] = HashFromString(fmt.Sprintf("leaf %d", i))
		require.NoError(t, f.Add(leaves[i]))
		require.NoError(t, p.Add(leaves[i]))
	}

	good, err := f.ProveHash(leaves[1])
	require.NoError(t, err)
	_, err = f.Remove(good.Position, good)
	require.NoError(t, err)
	bad, err := f.ProveHash(leaves[6])
	require.NoError(t, err)
	bad.Payload[0] ^= 1

	_, err = p.ApplyBatch([]Proof{good, bad})
	require.ErrorIs(t, err, ErrProofInvalid)
	require.Contains(t, err.Error(), "batch removal 1 of 2")

	// the first removal stuck; forest and pollard still agree
	require.Equal(t, f.NumLeaves(), p.NumLeaves())
	fr, err := f.Roots()
	require.NoError(t, err)
	require.Equal(t, fr, p.Roots())
}
