package accumulator

import (
	"errors"
	"fmt"
	"testing"
)

// TestProveVerify proves every live leaf at a range of forest sizes and
// checks the proofs verify statelessly against the root sequence.
func TestProveVerify(t *testing.T) {
	f := NewForest(nil, nil)
	leaves := []Hash{}

	for n := 1; n <= 40; n++ {
		leaf := HashFromString(fmt.Sprintf("leaf %d", n))
		leaves = append(leaves, leaf)
		if err := f.Add(leaf); err != nil {
			t.Fatal(err)
		}
		roots, err := f.Roots()
		if err != nil {
			t.Fatal(err)
		}

		for _, leaf := range leaves {
			pr, err := f.ProveHash(leaf)
			if err != nil {
				t.Fatalf("n=%d: %v", n, err)
			}
			if pr.Payload != leaf {
				t.Fatalf("n=%d: proof payload %x, want %x",
					n, pr.Payload[:4], leaf[:4])
			}
			if err := VerifyProof(nil, roots, pr); err != nil {
				t.Fatalf("n=%d leaf %x: %v", n, leaf[:4], err)
			}
		}
	}
}

// TestProofRelocationBranch checks when proofs carry the relocation branch:
// always for a non-rightmost leaf of a tree taller than zero, never
// otherwise, and the branch names the tree's rightmost leaf.
func TestProofRelocationBranch(t *testing.T) {
	f := NewForest(nil, nil)
	leaves := make([]Hash, 13) // trees of heights 3, 2, 0
	for i := range leaves {
		leaves[i] = HashFromString(fmt.Sprintf("leaf %d", i))
		if err := f.Add(leaves[i]); err != nil {
			t.Fatal(err)
		}
	}

	for _, leaf := range leaves {
		pr, err := f.ProveHash(leaf)
		if err != nil {
			t.Fatal(err)
		}
		lastOff := uint64(1)<<pr.Position.Tree - 1
		rightmost := pr.Position.Off == lastOff

		if pr.Position.Tree == 0 || rightmost {
			if pr.Relocation != nil {
				t.Fatalf("%v: unexpected relocation branch", pr.Position)
			}
			continue
		}
		if pr.Relocation == nil {
			t.Fatalf("%v: missing relocation branch", pr.Position)
		}
		last, err := f.Prove(Position{Tree: pr.Position.Tree, Row: 0, Off: lastOff})
		if err != nil {
			t.Fatal(err)
		}
		if pr.Relocation.Payload != last.Payload {
			t.Fatalf("%v: relocation names %x, rightmost leaf is %x",
				pr.Position, pr.Relocation.Payload[:4], last.Payload[:4])
		}
	}
}

func TestVerifyProofRejects(t *testing.T) {
	f := NewForest(nil, nil)
	leaves := make([]Hash, 12) // trees of heights 3, 2
	for i := range leaves {
		leaves[i] = HashFromString(fmt.Sprintf("leaf %d", i))
		if err := f.Add(leaves[i]); err != nil {
			t.Fatal(err)
		}
	}
	roots, err := f.Roots()
	if err != nil {
		t.Fatal(err)
	}
	pr, err := f.ProveHash(leaves[2])
	if err != nil {
		t.Fatal(err)
	}

	// tampered payload
	bad := pr
	bad.Payload[0] ^= 1
	if err := VerifyProof(nil, roots, bad); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("tampered payload: got %v", err)
	}

	// tampered sibling
	bad = pr
	bad.Siblings = append([]Hash{}, pr.Siblings...)
	bad.Siblings[1][0] ^= 1
	if err := VerifyProof(nil, roots, bad); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("tampered sibling: got %v", err)
	}

	// wrong branch length
	bad = pr
	bad.Siblings = pr.Siblings[:1]
	if err := VerifyProof(nil, roots, bad); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("short branch: got %v", err)
	}

	// tree height not in the shape; the retargeted proof's offset has to
	// stay in range for the smaller tree so the absent-height check is
	// what actually fires
	first, err := f.ProveHash(leaves[0])
	if err != nil {
		t.Fatal(err)
	}
	bad = first
	bad.Position.Tree = 1
	bad.Siblings = first.Siblings[:1]
	bad.Relocation = nil
	if err := VerifyProof(nil, roots, bad); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("absent tree: got %v", err)
	}

	// offset outside the tree
	bad = pr
	bad.Position.Off = 8
	if err := VerifyProof(nil, roots, bad); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("bad offset: got %v", err)
	}

	// tampered relocation branch
	if pr.Relocation == nil {
		t.Fatal("expected a relocation branch on this proof")
	}
	bad = pr
	rel := *pr.Relocation
	rel.Payload[0] ^= 1
	bad.Relocation = &rel
	if err := VerifyProof(nil, roots, bad); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("tampered relocation: got %v", err)
	}

	// the original proof still verifies
	if err := VerifyProof(nil, roots, pr); err != nil {
		t.Fatal(err)
	}
}

// TestProofSurvivesUnrelatedChanges checks that a proof stays valid while
// its own tree is untouched, even as other trees come and go.
func TestProofSurvivesUnrelatedChanges(t *testing.T) {
	f := NewForest(nil, nil)
	leaves := make([]Hash, 8) // one height-3 tree
	for i := range leaves {
		leaves[i] = HashFromString(fmt.Sprintf("leaf %d", i))
		if err := f.Add(leaves[i]); err != nil {
			t.Fatal(err)
		}
	}
	pr, err := f.ProveHash(leaves[3])
	if err != nil {
		t.Fatal(err)
	}

	// three more adds only build trees of heights 1 and 0
	for i := 8; i < 11; i++ {
		if err := f.Add(HashFromString(fmt.Sprintf("leaf %d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.VerifyProof(pr); err != nil {
		t.Fatalf("proof died without its tree changing: %v", err)
	}

	// the 16th leaf carries the height-3 tree away into a height-4 one
	for i := 11; i < 16; i++ {
		if err := f.Add(HashFromString(fmt.Sprintf("leaf %d", i))); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.VerifyProof(pr); !errors.Is(err, ErrProofInvalid) {
		t.Fatalf("proof for a merged-away tree: got %v", err)
	}
}

func TestProveHashUnknown(t *testing.T) {
	f := NewForest(nil, nil)
	if err := f.Add(HashFromString("here")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ProveHash(HashFromString("not here")); err == nil {
		t.Fatal("proved a leaf that was never added")
	}
	if f.FindLeaf(HashFromString("not here")) {
		t.Fatal("found a leaf that was never added")
	}
}
