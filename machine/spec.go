// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package machine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ava-labs/emulatorvm/merkle"
)

const (
	// MinRegionLog2Size is the log2 of the smallest region: a single word
	MinRegionLog2Size = merkle.WordLog2Size
	// MaxRegionLog2Size bounds the memory image of a single region
	MaxRegionLog2Size = 24
)

var ErrInvalidSpec = errors.New("invalid machine spec")

// Opcode names an instruction of the reference machine
type Opcode string

const (
	OpNop  Opcode = "nop"
	OpLi   Opcode = "li"
	OpAddi Opcode = "addi"
	OpAdd  Opcode = "add"
	OpMov  Opcode = "mov"
	OpXor  Opcode = "xor"
	OpMuli Opcode = "muli"
)

var readsSource = map[Opcode]bool{
	OpNop:  false,
	OpLi:   false,
	OpAddi: false,
	OpAdd:  true,
	OpMov:  true,
	OpXor:  true,
	OpMuli: false,
}

// Instruction operates on the words at [Dst] and [Src] and the immediate [Imm].
// 64-bit fields are quoted decimals in JSON.
type Instruction struct {
	Op  Opcode `json:"op"                   yaml:"op"`
	Dst uint64 `json:"dst,string,omitempty" yaml:"dst,omitempty"`
	Src uint64 `json:"src,string,omitempty" yaml:"src,omitempty"`
	Imm uint64 `json:"imm,string,omitempty" yaml:"imm,omitempty"`
}

// Region is an initial memory image of size 2^[Log2Size] at [Start].
// [Data] shorter than the region is zero padded.
type Region struct {
	Start    uint64        `json:"start,string"   yaml:"start"`
	Log2Size uint32        `json:"log2Size"       yaml:"log2Size"`
	Data     hexutil.Bytes `json:"data,omitempty" yaml:"data,omitempty"`
}

// Spec describes how to build a machine. A machine built from a Spec is a
// pure function of the Spec and its cycle count.
type Spec struct {
	Regions []Region      `json:"regions" yaml:"regions"`
	Program []Instruction `json:"program" yaml:"program"`
}

// Validate returns an error wrapping ErrInvalidSpec if [s] cannot be built
func (s *Spec) Validate() error {
	regions := make([]Region, len(s.Regions))
	copy(regions, s.Regions)
	sort.Slice(regions, func(i, j int) bool { return regions[i].Start < regions[j].Start })

	for i, r := range regions {
		if r.Log2Size < MinRegionLog2Size || r.Log2Size > MaxRegionLog2Size {
			return fmt.Errorf("%w: region at %#x has log2 size %d outside [%d, %d]",
				ErrInvalidSpec, r.Start, r.Log2Size, MinRegionLog2Size, MaxRegionLog2Size)
		}
		if err := merkle.CheckAlignment(r.Start, r.Log2Size); err != nil {
			return fmt.Errorf("%w: region at %#x: %s", ErrInvalidSpec, r.Start, err)
		}
		size := uint64(1) << r.Log2Size
		if uint64(len(r.Data)) > size {
			return fmt.Errorf("%w: region at %#x holds %d bytes but has %d bytes of data",
				ErrInvalidSpec, r.Start, size, len(r.Data))
		}
		if i > 0 {
			prev := regions[i-1]
			if prevEnd := prev.Start + (uint64(1) << prev.Log2Size); prevEnd > r.Start || prevEnd == 0 {
				return fmt.Errorf("%w: region at %#x overlaps region at %#x", ErrInvalidSpec, r.Start, prev.Start)
			}
		}
	}

	for i, inst := range s.Program {
		reads, ok := readsSource[inst.Op]
		if !ok {
			return fmt.Errorf("%w: instruction %d has unknown op %q", ErrInvalidSpec, i, inst.Op)
		}
		if inst.Op == OpNop {
			continue
		}
		if err := merkle.CheckAlignment(inst.Dst, merkle.WordLog2Size); err != nil {
			return fmt.Errorf("%w: instruction %d destination: %s", ErrInvalidSpec, i, err)
		}
		if reads {
			if err := merkle.CheckAlignment(inst.Src, merkle.WordLog2Size); err != nil {
				return fmt.Errorf("%w: instruction %d source: %s", ErrInvalidSpec, i, err)
			}
		}
	}
	return nil
}
