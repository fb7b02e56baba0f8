package accumulator

import (
	"fmt"
	"math/bits"
)

// maxForestHeight caps tree heights so offsets fit in a uint64.
const maxForestHeight = 63

// None of the arithmetic here checks its arguments; every function assumes a
// position that is valid for the caller's leaf count.  Callers reject invalid
// positions with ErrOutOfRange before doing position math.

// ForestShape returns the heights of the trees present with the given number
// of leaves: the set bits of numLeaves, tallest first.  This is the order the
// root sequence uses everywhere.
func ForestShape(numLeaves uint64) []uint8 {
	shape := make([]uint8, 0, bits.OnesCount64(numLeaves))
	for h := bits.Len64(numLeaves) - 1; h >= 0; h-- {
		if numLeaves>>uint(h)&1 == 1 {
			shape = append(shape, uint8(h))
		}
	}
	return shape
}

// Parent returns the position of the parent of the given position.
func Parent(pos Position) Position {
	return Position{Tree: pos.Tree, Row: pos.Row + 1, Off: pos.Off >> 1}
}

// Sibling returns the position of the other child of the position's parent.
func Sibling(pos Position) Position {
	return Position{Tree: pos.Tree, Row: pos.Row, Off: pos.Off ^ 1}
}

// Children returns the left and right child positions of the given position.
func Children(pos Position) (Position, Position) {
	l := Position{Tree: pos.Tree, Row: pos.Row - 1, Off: pos.Off << 1}
	return l, Sibling(l)
}

// rowWidth returns how many node slots row r of a height-h tree has.
func rowWidth(tree, row uint8) uint64 {
	return uint64(1) << (tree - row)
}

// rootPosition returns the position of the root of the tree at height h.
func rootPosition(h uint8) Position {
	return Position{Tree: h, Row: h, Off: 0}
}

// checkLeafPosition rejects leaf positions that aren't addressable with the
// given leaf count.
func checkLeafPosition(numLeaves uint64, pos Position) error {
	if pos.Tree > maxForestHeight || pos.Row != 0 ||
		numLeaves>>pos.Tree&1 == 0 || pos.Off >= uint64(1)<<pos.Tree {
		return fmt.Errorf("%w: no leaf %v with %d leaves",
			ErrOutOfRange, pos, numLeaves)
	}
	return nil
}

// swapPiece tells which borrow fragment a leaf offset falls in.  Deleting a
// leaf from a height-h tree splits the tree along its rightmost spine into
// perfect subtrees ("pieces") of heights h-1 down to 0; the piece of height r
// covers leaf offsets [2^h - 2^(r+1), 2^h - 2^r).  Which is to say, the piece
// holding a given offset is named by the offset's highest zero bit.
// Undefined for the rightmost leaf itself (all bits set, it's in no piece).
func swapPiece(off uint64, tree uint8) uint8 {
	zeros := ^off & (uint64(1)<<tree - 1)
	return uint8(bits.Len64(zeros)) - 1
}

// pieceStart returns the leftmost leaf offset of the given piece.
func pieceStart(tree, piece uint8) uint64 {
	return uint64(1)<<tree - uint64(1)<<(piece+1)
}
