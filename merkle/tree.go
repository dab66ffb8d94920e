// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"fmt"
)

// pristine[l] is the hash of an all-zero subtree of size 2^l
var pristine = func() [RootLog2Size + 1]Hash {
	var hashes [RootLog2Size + 1]Hash
	hashes[WordLog2Size] = HashWord(Word{})
	for l := WordLog2Size; l < RootLog2Size; l++ {
		hashes[l+1] = Concat(hashes[l], hashes[l])
	}
	return hashes
}()

// PristineHash returns the hash of an all-zero subtree of size 2^[log2Size]
func PristineHash(log2Size uint32) Hash {
	return pristine[log2Size]
}

// node is an immutable subtree. A nil *node is the all-zero subtree of its
// level.
type node struct {
	hash Hash

	// internal nodes
	left, right *node

	// leaves
	word Word
}

func hashOf(n *node, log2Size uint32) Hash {
	if n == nil {
		return pristine[log2Size]
	}
	return n.hash
}

func child(n *node, bit uint64) *node {
	switch {
	case n == nil:
		return nil
	case bit == 0:
		return n.left
	default:
		return n.right
	}
}

func newLeaf(w Word) *node {
	if w.IsZero() {
		return nil
	}
	return &node{hash: HashWord(w), word: w}
}

func newParent(left, right *node, log2Size uint32) *node {
	if left == nil && right == nil {
		return nil
	}
	return &node{
		hash:  Concat(hashOf(left, log2Size-1), hashOf(right, log2Size-1)),
		left:  left,
		right: right,
	}
}

// Tree is a sparse binary Merkle tree over a 2^64-byte address space with
// 8-byte word leaves. Only subtrees that differ from their pristine hash are
// stored.
//
// Nodes are never modified once built: a write rebuilds the path from the
// written leaves to the root and shares every other subtree, so clones are
// free and cost memory only for what they change afterwards.
type Tree struct {
	root *node
}

func NewTree() *Tree { return &Tree{} }

// Clone returns a copy of [t]. Writes to either tree do not affect the other.
func (t *Tree) Clone() *Tree { return &Tree{root: t.root} }

// RootHash returns the hash of the whole address space
func (t *Tree) RootHash() Hash { return hashOf(t.root, RootLog2Size) }

// find returns the subtree of size 2^[log2Size] at [address]
func (t *Tree) find(address uint64, log2Size uint32) *node {
	n := t.root
	for l := uint32(RootLog2Size); l > log2Size && n != nil; l-- {
		n = child(n, (address>>(l-1))&1)
	}
	return n
}

// ReadWord returns the word at [address], which must be word aligned
func (t *Tree) ReadWord(address uint64) (Word, error) {
	if err := CheckAlignment(address, WordLog2Size); err != nil {
		return Word{}, err
	}
	if n := t.find(address, WordLog2Size); n != nil {
		return n.word, nil
	}
	return Word{}, nil
}

// WriteWord stores [w] at [address] and rehashes the path to the root
func (t *Tree) WriteWord(address uint64, w Word) error {
	if err := CheckAlignment(address, WordLog2Size); err != nil {
		return err
	}
	t.root = write(t.root, RootLog2Size, 0, address, w[:])
	return nil
}

// Read copies [length] bytes starting at [address]. Both must be word aligned.
func (t *Tree) Read(address, length uint64) ([]byte, error) {
	if err := checkRange(address, length); err != nil {
		return nil, err
	}
	data := make([]byte, length)
	read(t.root, RootLog2Size, 0, address, address+length-1, data)
	return data, nil
}

// Write stores [data] starting at [address]. Both must be word aligned. Every
// internal node covering the range is hashed once.
func (t *Tree) Write(address uint64, data []byte) error {
	if err := checkRange(address, uint64(len(data))); err != nil {
		return err
	}
	t.root = write(t.root, RootLog2Size, 0, address, data)
	return nil
}

// Proof returns the proof for the subtree of size 2^[log2Size] at [address]
func (t *Tree) Proof(address uint64, log2Size uint32) (Proof, error) {
	if err := CheckAlignment(address, log2Size); err != nil {
		return Proof{}, err
	}
	siblings := make([]Hash, RootLog2Size-log2Size)
	n := t.root
	for l := uint32(RootLog2Size); l > log2Size; l-- {
		bit := (address >> (l - 1)) & 1
		siblings[l-1-log2Size] = hashOf(child(n, bit^1), l-1)
		n = child(n, bit)
	}
	return Proof{
		Address:       address,
		Log2Size:      log2Size,
		TargetHash:    hashOf(n, log2Size),
		SiblingHashes: siblings,
		RootHash:      t.RootHash(),
	}, nil
}

func checkRange(address, length uint64) error {
	if length == 0 || length%WordLength != 0 {
		return fmt.Errorf("%w: length %d is not a positive multiple of %d", ErrMisaligned, length, WordLength)
	}
	if address+length < address && address+length != 0 {
		return fmt.Errorf("%w: range %#x+%d wraps the address space", ErrMisaligned, address, length)
	}
	return CheckAlignment(address, WordLog2Size)
}

// write returns [n], the subtree of size 2^[log2Size] at [base], with [data]
// stored from [address]. Subtrees outside the range are shared with [n].
func write(n *node, log2Size uint32, base, address uint64, data []byte) *node {
	if log2Size == WordLog2Size {
		var w Word
		copy(w[:], data[base-address:])
		return newLeaf(w)
	}
	half := uint64(1) << (log2Size - 1)
	last := address + uint64(len(data)) - 1
	left, right := child(n, 0), child(n, 1)
	if base <= last && address <= base+half-1 {
		left = write(left, log2Size-1, base, address, data)
	}
	if mid := base + half; mid <= last && address <= mid+half-1 {
		right = write(right, log2Size-1, mid, address, data)
	}
	return newParent(left, right, log2Size)
}

// read copies the words of [n] in [address, last] into [out], which starts at
// [address] and is zeroed
func read(n *node, log2Size uint32, base, address, last uint64, out []byte) {
	if n == nil {
		return
	}
	if log2Size == WordLog2Size {
		copy(out[base-address:], n.word[:])
		return
	}
	half := uint64(1) << (log2Size - 1)
	if base <= last && address <= base+half-1 {
		read(n.left, log2Size-1, base, address, last, out)
	}
	if mid := base + half; mid <= last && address <= mid+half-1 {
		read(n.right, log2Size-1, mid, address, last, out)
	}
}
