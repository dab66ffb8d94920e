// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"errors"
	"fmt"
)

const (
	// RootLog2Size is the log2 of the size in bytes of the whole address space
	RootLog2Size = 64
	// WordLog2Size is the log2 of the size in bytes of a tree leaf
	WordLog2Size = 3
)

var (
	ErrMisaligned              = errors.New("memory alignment error")
	ErrMalformedProof          = errors.New("malformed proof")
	ErrProofVerificationFailed = errors.New("proof verification failed")
)

// Proof shows that the subtree of size 2^[Log2Size] starting at [Address] has
// hash [TargetHash] in the tree whose root is [RootHash].
//
// [SiblingHashes] are ordered from the level of the target up to the level
// right below the root: SiblingHashes[i] is the sibling at level Log2Size+i.
// [Address] is a quoted decimal in JSON, like every other 64-bit integer of
// the API.
type Proof struct {
	Address       uint64 `json:"address,string" serialize:"true"`
	Log2Size      uint32 `json:"log2Size"       serialize:"true"`
	TargetHash    Hash   `json:"targetHash"     serialize:"true"`
	SiblingHashes []Hash `json:"siblingHashes"  serialize:"true"`
	RootHash      Hash   `json:"rootHash"       serialize:"true"`
}

// CheckAlignment returns ErrMisaligned unless a subtree of size 2^[log2Size]
// can start at [address].
func CheckAlignment(address uint64, log2Size uint32) error {
	if log2Size < WordLog2Size || log2Size > RootLog2Size {
		return fmt.Errorf("%w: log2 size %d outside [%d, %d]", ErrMisaligned, log2Size, WordLog2Size, RootLog2Size)
	}
	if address&sizeMask(log2Size) != 0 {
		return fmt.Errorf("%w: address %#x not aligned to 2^%d", ErrMisaligned, address, log2Size)
	}
	return nil
}

// sizeMask returns 2^log2Size - 1. For log2Size == 64 the shift yields 0 and
// the subtraction wraps to all ones.
func sizeMask(log2Size uint32) uint64 {
	return (uint64(1) << log2Size) - 1
}

// malformedProofError matches ErrMalformedProof and unwraps to the error that
// made the proof malformed
type malformedProofError struct{ cause error }

func (e *malformedProofError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMalformedProof, e.cause)
}

func (e *malformedProofError) Is(target error) bool { return target == ErrMalformedProof }

func (e *malformedProofError) Unwrap() error { return e.cause }

// Validate checks the structural invariants of [p]. A proof that fails
// validation is a caller error and is never reported as a failed verification.
// A misaligned proof matches both ErrMalformedProof and ErrMisaligned.
func (p *Proof) Validate() error {
	if err := CheckAlignment(p.Address, p.Log2Size); err != nil {
		return &malformedProofError{cause: err}
	}
	if expected := int(RootLog2Size - p.Log2Size); len(p.SiblingHashes) != expected {
		return fmt.Errorf("%w: expected %d sibling hashes, got %d", ErrMalformedProof, expected, len(p.SiblingHashes))
	}
	return nil
}

// ComputeRoot folds [target] with the sibling hashes of [p], returning the
// root implied by the proof for that target.
func (p *Proof) ComputeRoot(target Hash) (Hash, error) {
	if err := p.Validate(); err != nil {
		return Hash{}, err
	}
	current := target
	for i, sibling := range p.SiblingHashes {
		level := p.Log2Size + uint32(i)
		if (p.Address>>level)&1 == 0 {
			current = Concat(current, sibling)
		} else {
			current = Concat(sibling, current)
		}
	}
	return current, nil
}

// Verify reports whether the target hash of [p] recomputes to its root hash.
// It errors only if [p] is malformed.
func (p *Proof) Verify() (bool, error) {
	root, err := p.ComputeRoot(p.TargetHash)
	if err != nil {
		return false, err
	}
	return root == p.RootHash, nil
}

// Check is Verify for consumers that treat a mismatch as an error
func (p *Proof) Check() error {
	ok, err := p.Verify()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: address %#x log2 size %d against root %s", ErrProofVerificationFailed, p.Address, p.Log2Size, p.RootHash)
	}
	return nil
}
