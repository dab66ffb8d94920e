// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package machine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ava-labs/emulatorvm/merkle"
)

const (
	// cancellation is polled once every [cancelCheckInterval] cycles
	cancelCheckInterval = 1 << 12
	// initial memory is loaded [loadChunkSize] bytes at a time, polling
	// cancellation in between
	loadChunkSize = 1 << 16
)

var (
	ErrCycleBehind   = errors.New("machine cannot run backwards")
	ErrCycleOverflow = errors.New("machine cycle overflow")

	_ Machine = &Emulator{}
)

// Machine is the contract the session layer needs from an emulator. A
// Machine is not safe for concurrent use.
type Machine interface {
	// Cycle returns the number of steps executed so far
	Cycle() uint64
	// RootHash returns the hash of the whole machine state
	RootHash() merkle.Hash
	// Run advances the machine to [cycle] without logging
	Run(ctx context.Context, cycle uint64) error
	// Step advances the machine by one cycle, logging every memory access
	Step() (StepLog, error)
	ReadMemory(address, length uint64) ([]byte, error)
	WriteMemory(address uint64, data []byte) error
	GetProof(address uint64, log2Size uint32) (merkle.Proof, error)
	// Snapshot returns an independent copy of the machine. Copies share
	// unchanged memory, so taking one is cheap.
	Snapshot() Machine
}

// Emulator is the reference deterministic machine. Its state is its memory
// tree and cycle count; the program is fixed by the Spec and the instruction
// executed at cycle c is program[c mod len(program)].
type Emulator struct {
	program []Instruction
	cycle   uint64
	memory  *merkle.Tree
}

// New builds the cycle 0 machine described by [spec]. Loading large regions
// honours cancellation of [ctx].
func New(ctx context.Context, spec Spec) (*Emulator, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	memory := merkle.NewTree()
	for _, r := range spec.Regions {
		data := r.Data
		if pad := len(data) % merkle.WordLength; pad != 0 {
			data = append(append([]byte(nil), data...), make([]byte, merkle.WordLength-pad)...)
		}
		for offset := 0; offset < len(data); offset += loadChunkSize {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			end := offset + loadChunkSize
			if end > len(data) {
				end = len(data)
			}
			if err := memory.Write(r.Start+uint64(offset), data[offset:end]); err != nil {
				return nil, fmt.Errorf("%w: region at %#x: %s", ErrInvalidSpec, r.Start, err)
			}
		}
	}
	program := make([]Instruction, len(spec.Program))
	copy(program, spec.Program)
	return &Emulator{
		program: program,
		memory:  memory,
	}, nil
}

func (e *Emulator) Cycle() uint64 { return e.cycle }

func (e *Emulator) RootHash() merkle.Hash { return e.memory.RootHash() }

func (e *Emulator) Run(ctx context.Context, cycle uint64) error {
	if cycle < e.cycle {
		return fmt.Errorf("%w: at cycle %d, asked for %d", ErrCycleBehind, e.cycle, cycle)
	}
	for e.cycle < cycle {
		if e.cycle%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := e.execute(nil); err != nil {
			return err
		}
	}
	return nil
}

func (e *Emulator) Step() (StepLog, error) {
	log := StepLog{Accesses: []Access{}}
	if err := e.execute(&log); err != nil {
		return StepLog{}, err
	}
	return log, nil
}

func (e *Emulator) ReadMemory(address, length uint64) ([]byte, error) {
	return e.memory.Read(address, length)
}

func (e *Emulator) WriteMemory(address uint64, data []byte) error {
	return e.memory.Write(address, data)
}

func (e *Emulator) GetProof(address uint64, log2Size uint32) (merkle.Proof, error) {
	return e.memory.Proof(address, log2Size)
}

func (e *Emulator) Snapshot() Machine {
	return &Emulator{
		program: e.program,
		cycle:   e.cycle,
		memory:  e.memory.Clone(),
	}
}

// execute runs the instruction of the current cycle. Accesses are appended to
// [log] when it is non-nil.
func (e *Emulator) execute(log *StepLog) error {
	if e.cycle == math.MaxUint64 {
		return ErrCycleOverflow
	}
	if len(e.program) > 0 {
		inst := e.program[e.cycle%uint64(len(e.program))]
		if err := e.apply(inst, log); err != nil {
			return fmt.Errorf("cycle %d: %w", e.cycle, err)
		}
	}
	e.cycle++
	return nil
}

func (e *Emulator) apply(inst Instruction, log *StepLog) error {
	var src uint64
	if readsSource[inst.Op] {
		w, err := e.read(inst.Src, log)
		if err != nil {
			return err
		}
		src = w.Uint64()
	}

	var update func(dst uint64) uint64
	switch inst.Op {
	case OpNop:
		return nil
	case OpLi:
		update = func(uint64) uint64 { return inst.Imm }
	case OpAddi:
		update = func(dst uint64) uint64 { return dst + inst.Imm }
	case OpAdd:
		update = func(dst uint64) uint64 { return dst + src }
	case OpMov:
		update = func(uint64) uint64 { return src }
	case OpXor:
		update = func(dst uint64) uint64 { return dst ^ src }
	case OpMuli:
		update = func(dst uint64) uint64 { return dst * inst.Imm }
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidSpec, inst.Op)
	}
	return e.write(inst.Dst, update, log)
}

func (e *Emulator) read(address uint64, log *StepLog) (merkle.Word, error) {
	w, err := e.memory.ReadWord(address)
	if err != nil || log == nil {
		return w, err
	}
	proof, err := e.memory.Proof(address, merkle.WordLog2Size)
	if err != nil {
		return w, err
	}
	log.Accesses = append(log.Accesses, Access{
		Operation: Read,
		Address:   address,
		ValueRead: w,
		Proof:     proof,
	})
	return w, nil
}

// write replaces the word at [address] with update(old). The logged proof is
// taken after the write.
func (e *Emulator) write(address uint64, update func(uint64) uint64, log *StepLog) error {
	old, err := e.memory.ReadWord(address)
	if err != nil {
		return err
	}
	written := merkle.WordFromUint64(update(old.Uint64()))
	if err := e.memory.WriteWord(address, written); err != nil {
		return err
	}
	if log == nil {
		return nil
	}
	proof, err := e.memory.Proof(address, merkle.WordLog2Size)
	if err != nil {
		return err
	}
	log.Accesses = append(log.Accesses, Access{
		Operation:    Write,
		Address:      address,
		ValueRead:    old,
		ValueWritten: written,
		Proof:        proof,
	})
	return nil
}
