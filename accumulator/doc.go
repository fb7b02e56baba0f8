/*
Package accumulator implements a dynamic hash-based accumulator: a compact,
cryptographically verifiable representation of a large, changing set of
32-byte items.

The set is kept as a forest of perfect binary hash trees.  The shape of the
forest encodes the leaf count in binary: a tree of height k exists exactly
when bit k of the leaf count is set, so there is never more than one tree per
height.  Adding a leaf works like incrementing a binary counter -- equal
height trees merge ("carry") until every height is distinct.  Deleting a leaf
relocates the tree's rightmost leaf into the vacated slot and splits the tree
along its rightmost spine ("borrow"), re-merging the fragments with the
shorter trees.

Nodes are addressed per tree, row-major from the bottom:

	tree height 2 (nodes of a 4-leaf tree)

	(2,0)
	|---------------\
	(1,0)           (1,1)
	|-------\       |-------\
	(0,0)   (0,1)   (0,2)   (0,3)

Two participant kinds share the same root-sequence math:

Forest is the full participant.  It stores every node of every tree in a
ForestData store (in ram, or in a leveldb database for forests too big for
ram), can generate membership proofs, and answers deletions authoritatively.

Pollard is the stateless participant.  It holds only the root hashes, one
slot per tree height, and stays synchronized by applying the same adds and
proof-carried deletions a Forest would, in O(log n) space.

A Proof is the sibling path from a leaf to its tree's root.  Proofs for
leaves that are not the rightmost leaf of their tree also carry a relocation
branch (the rightmost leaf and its sibling path) so that a Pollard can
reproduce the leaf-swap a Forest performs on delete.
*/
package accumulator
