// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package machine

import (
	"fmt"

	"github.com/ava-labs/emulatorvm/merkle"
)

// AccessOperation is the kind of a logged memory access
type AccessOperation uint8

const (
	Read AccessOperation = iota
	Write
)

func (op AccessOperation) String() string {
	switch op {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("AccessOperation(%d)", uint8(op))
	}
}

func (op AccessOperation) MarshalText() ([]byte, error) {
	if op != Read && op != Write {
		return nil, fmt.Errorf("unknown access operation %d", uint8(op))
	}
	return []byte(op.String()), nil
}

func (op *AccessOperation) UnmarshalText(text []byte) error {
	switch string(text) {
	case "read":
		*op = Read
	case "write":
		*op = Write
	default:
		return fmt.Errorf("unknown access operation %q", text)
	}
	return nil
}

// Access is one word access performed during a step.
//
// The proof of a Read certifies the tree at the time of the read. The proof of
// a Write certifies the tree right after the write, so its target hash is the
// hash of [ValueWritten].
type Access struct {
	Operation    AccessOperation `json:"operation"      serialize:"true"`
	Address      uint64          `json:"address,string" serialize:"true"`
	ValueRead    merkle.Word     `json:"valueRead"      serialize:"true"`
	ValueWritten merkle.Word     `json:"valueWritten"   serialize:"true"`
	Proof        merkle.Proof    `json:"proof"          serialize:"true"`
}

// Verify checks [a] in isolation
func (a *Access) Verify() error {
	if a.Proof.Address != a.Address || a.Proof.Log2Size != merkle.WordLog2Size {
		return fmt.Errorf("%w: proof covers %#x/2^%d instead of word %#x",
			merkle.ErrProofVerificationFailed, a.Proof.Address, a.Proof.Log2Size, a.Address)
	}
	switch a.Operation {
	case Read:
		if !a.ValueWritten.IsZero() {
			return fmt.Errorf("%w: read of %#x carries a written value", merkle.ErrProofVerificationFailed, a.Address)
		}
		if a.Proof.TargetHash != merkle.HashWord(a.ValueRead) {
			return fmt.Errorf("%w: read value of %#x does not match the proof", merkle.ErrProofVerificationFailed, a.Address)
		}
	case Write:
		if a.Proof.TargetHash != merkle.HashWord(a.ValueWritten) {
			return fmt.Errorf("%w: written value of %#x does not match the proof", merkle.ErrProofVerificationFailed, a.Address)
		}
	default:
		return fmt.Errorf("%w: unknown access operation %d", merkle.ErrMalformedProof, uint8(a.Operation))
	}
	return a.Proof.Check()
}

// RootBefore returns the root of the tree right before [a] was performed
func (a *Access) RootBefore() (merkle.Hash, error) {
	if a.Operation == Read {
		return a.Proof.RootHash, nil
	}
	return a.Proof.ComputeRoot(merkle.HashWord(a.ValueRead))
}

// StepLog is the ordered list of accesses performed by a single step
type StepLog struct {
	Accesses []Access `json:"accesses" serialize:"true"`
}

// Verify checks every access of [l] and that the accesses chain: each access
// starts from the root the previous one left behind.
func (l *StepLog) Verify() error {
	for i := range l.Accesses {
		a := &l.Accesses[i]
		if err := a.Verify(); err != nil {
			return fmt.Errorf("access %d: %w", i, err)
		}
		if i == 0 {
			continue
		}
		before, err := a.RootBefore()
		if err != nil {
			return fmt.Errorf("access %d: %w", i, err)
		}
		if before != l.Accesses[i-1].Proof.RootHash {
			return fmt.Errorf("%w: access %d does not start from the root left by access %d",
				merkle.ErrProofVerificationFailed, i, i-1)
		}
	}
	return nil
}

// VerifyTransition checks that [l] takes the machine from state hash [before]
// to state hash [after]
func (l *StepLog) VerifyTransition(before, after merkle.Hash) error {
	if err := l.Verify(); err != nil {
		return err
	}
	if len(l.Accesses) == 0 {
		if before != after {
			return fmt.Errorf("%w: empty step changes the state hash", merkle.ErrProofVerificationFailed)
		}
		return nil
	}
	first, err := l.Accesses[0].RootBefore()
	if err != nil {
		return err
	}
	if first != before {
		return fmt.Errorf("%w: log starts at %s, expected %s", merkle.ErrProofVerificationFailed, first, before)
	}
	if last := l.Accesses[len(l.Accesses)-1].Proof.RootHash; last != after {
		return fmt.Errorf("%w: log ends at %s, expected %s", merkle.ErrProofVerificationFailed, last, after)
	}
	return nil
}
