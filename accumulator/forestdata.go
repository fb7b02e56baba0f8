package accumulator

import (
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ForestData is the thing that holds all the hashes in the forest.  Could be
// in ram, or in a database, or maybe something else.  It's a dumb node table;
// all shape knowledge stays in Forest.
type ForestData interface {
	// read returns the hash at the given position.  A slot that was never
	// written, or was pruned, fails with ErrMissingNode; under correct use
	// that's an internal consistency violation, not a user error.
	read(pos Position) (Hash, error)

	// write stores the hash at the given position, overwriting whatever
	// was there.
	write(pos Position, h Hash)

	// prune marks a slot as logically empty after its leaf was relocated
	// away.  A pruned slot's stale hash is never served by read.
	prune(pos Position)

	// dropTree releases every slot of the tree at the given height.
	dropTree(tree uint8)

	// size returns how many node slots the store currently holds.
	size() uint64

	// close releases the store.
	close() error
}

// ********************************************* forest in ram

// ramForestData keeps one flat arena per tree height, row-major from the
// leaf row up, so a height-h tree occupies 2^(h+1)-1 slots.
type ramForestData struct {
	trees [maxForestHeight + 1][]Hash
}

// NewRamForestData returns an in-ram forest store.
func NewRamForestData() ForestData {
	return &ramForestData{}
}

// nodeIdx flattens a position into its arena index.  Rows below pos.Row take
// up 2^(tree+1) - 2^(tree+1-row) slots.
func nodeIdx(pos Position) uint64 {
	return uint64(2)<<pos.Tree - uint64(2)<<(pos.Tree-pos.Row) + pos.Off
}

func (r *ramForestData) read(pos Position) (Hash, error) {
	arena := r.trees[pos.Tree]
	if arena == nil {
		return empty, fmt.Errorf("%w: no tree at height %d", ErrMissingNode, pos.Tree)
	}
	h := arena[nodeIdx(pos)]
	if h == empty {
		return empty, fmt.Errorf("%w: %v", ErrMissingNode, pos)
	}
	return h, nil
}

func (r *ramForestData) write(pos Position, h Hash) {
	if r.trees[pos.Tree] == nil {
		r.trees[pos.Tree] = make([]Hash, uint64(2)<<pos.Tree-1)
	}
	r.trees[pos.Tree][nodeIdx(pos)] = h
}

func (r *ramForestData) prune(pos Position) {
	if r.trees[pos.Tree] != nil {
		r.trees[pos.Tree][nodeIdx(pos)] = empty
	}
}

func (r *ramForestData) dropTree(tree uint8) {
	r.trees[tree] = nil
}

func (r *ramForestData) size() (n uint64) {
	for _, arena := range r.trees {
		n += uint64(len(arena))
	}
	return
}

func (r *ramForestData) close() error {
	return nil
}

// ********************************************* forest in leveldb

// levelDbForestData keeps the node table in a leveldb database, one record
// per node keyed by position.  It's for full participants whose forest
// outgrows ram; it is not a durability or crash-recovery layer.
type levelDbForestData struct {
	db *leveldb.DB
}

// NewLevelDbForestData opens (or creates) a leveldb backed forest store at
// the given path.
func NewLevelDbForestData(path string) (ForestData, error) {
	db, err := leveldb.OpenFile(path, nil)
	if ldberrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	return &levelDbForestData{db: db}, nil
}

// nodeKey is 'n' + tree + row + big-endian offset, so one tree's records
// share a 3-byte prefix and can be dropped with a range scan.
func nodeKey(pos Position) []byte {
	key := make([]byte, 11)
	key[0] = 'n'
	key[1] = pos.Tree
	key[2] = pos.Row
	binary.BigEndian.PutUint64(key[3:], pos.Off)
	return key
}

func treePrefix(tree uint8) []byte {
	return []byte{'n', tree}
}

func (l *levelDbForestData) read(pos Position) (Hash, error) {
	var h Hash
	val, err := l.db.Get(nodeKey(pos), nil)
	if err == leveldb.ErrNotFound {
		return empty, fmt.Errorf("%w: %v", ErrMissingNode, pos)
	}
	if err != nil {
		return empty, fmt.Errorf("%w: %v: %s", ErrMissingNode, pos, err.Error())
	}
	copy(h[:], val)
	return h, nil
}

func (l *levelDbForestData) write(pos Position, h Hash) {
	if err := l.db.Put(nodeKey(pos), h[:], nil); err != nil {
		// leveldb only errors here if the db is closed or the disk is
		// gone; either way the store is unusable.
		panic(fmt.Sprintf("forest store write %v: %s", pos, err.Error()))
	}
}

func (l *levelDbForestData) prune(pos Position) {
	if err := l.db.Delete(nodeKey(pos), nil); err != nil {
		panic(fmt.Sprintf("forest store prune %v: %s", pos, err.Error()))
	}
}

func (l *levelDbForestData) dropTree(tree uint8) {
	iter := l.db.NewIterator(util.BytesPrefix(treePrefix(tree)), nil)
	defer iter.Release()
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		if err := l.db.Delete(key, nil); err != nil {
			panic(fmt.Sprintf("forest store drop tree %d: %s", tree, err.Error()))
		}
	}
}

func (l *levelDbForestData) size() (n uint64) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte{'n'}), nil)
	defer iter.Release()
	for iter.Next() {
		n++
	}
	return
}

func (l *levelDbForestData) close() error {
	return l.db.Close()
}
