// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"encoding/binary"
	"fmt"
	"hash"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

const (
	// HashLength is the size of a digest in bytes
	HashLength = 32
	// WordLength is the size of a memory word in bytes
	WordLength = 8
)

// Hash is a Keccak-256 digest
type Hash [HashLength]byte

// Word is the contents of one 8-byte memory word
type Word [WordLength]byte

type keccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

var hashers = sync.Pool{
	New: func() interface{} {
		return sha3.NewLegacyKeccak256().(keccakState)
	},
}

// Keccak returns the Keccak-256 digest of the concatenation of [chunks]
func Keccak(chunks ...[]byte) (h Hash) {
	state := hashers.Get().(keccakState)
	state.Reset()
	for _, chunk := range chunks {
		_, _ = state.Write(chunk)
	}
	_, _ = state.Read(h[:])
	hashers.Put(state)
	return h
}

// Concat hashes the concatenation of [left] and [right]
func Concat(left, right Hash) Hash {
	return Keccak(left[:], right[:])
}

// HashWord returns the leaf hash of [w]
func HashWord(w Word) Hash {
	return Keccak(w[:])
}

// BytesToHash converts [b] to a Hash. It fails unless [b] has exactly HashLength bytes.
func BytesToHash(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashLength {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) String() string { return hexutil.Encode(h[:]) }

func (h Hash) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

func (h *Hash) UnmarshalText(text []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalText(text); err != nil {
		return err
	}
	parsed, err := BytesToHash(b)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// WordFromUint64 returns the little-endian word holding [v]
func WordFromUint64(v uint64) (w Word) {
	binary.LittleEndian.PutUint64(w[:], v)
	return w
}

// Uint64 returns the little-endian value of [w]
func (w Word) Uint64() uint64 { return binary.LittleEndian.Uint64(w[:]) }

func (w Word) IsZero() bool { return w == Word{} }

func (w Word) String() string { return hexutil.Encode(w[:]) }

func (w Word) MarshalText() ([]byte, error) {
	return hexutil.Bytes(w[:]).MarshalText()
}

func (w *Word) UnmarshalText(text []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalText(text); err != nil {
		return err
	}
	if len(b) != WordLength {
		return fmt.Errorf("word must be %d bytes, got %d", WordLength, len(b))
	}
	copy(w[:], b)
	return nil
}
