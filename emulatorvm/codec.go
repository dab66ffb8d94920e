// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/codec/linearcodec"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/emulatorvm/machine"
	"github.com/ava-labs/emulatorvm/merkle"
)

const (
	// CodecVersion is the current default codec version
	CodecVersion = 0
)

// Codecs do serialization and deserialization
var (
	Codec codec.Manager

	errWrongCodecVersion = errors.New("unknown evidence codec version")
)

func init() {
	c := linearcodec.NewDefault()
	Codec = codec.NewDefaultManager()

	errs := wrappers.Errs{}
	errs.Add(
		Codec.RegisterCodec(CodecVersion, c),
	)
	if errs.Errored() {
		panic(errs.Err)
	}
}

// Evidence is a self-contained claim that the step at [Cycle] takes the
// machine from [RootBefore] to [RootAfter], backed by the step log
type Evidence struct {
	SessionID  string          `json:"sessionID"  serialize:"true"`
	Cycle      uint64          `json:"cycle"      serialize:"true"`
	RootBefore merkle.Hash     `json:"rootBefore" serialize:"true"`
	RootAfter  merkle.Hash     `json:"rootAfter"  serialize:"true"`
	Log        machine.StepLog `json:"log"        serialize:"true"`
}

// Verify checks the log of [e] against its claimed transition
func (e *Evidence) Verify() error {
	if err := e.Log.VerifyTransition(e.RootBefore, e.RootAfter); err != nil {
		return fmt.Errorf("step %d of %q: %w", e.Cycle, e.SessionID, err)
	}
	return nil
}

// Bytes returns the binary encoding of [e]
func (e *Evidence) Bytes() ([]byte, error) {
	return Codec.Marshal(CodecVersion, e)
}

// ParseEvidence decodes evidence produced by Bytes
func ParseEvidence(b []byte) (*Evidence, error) {
	e := &Evidence{}
	version, err := Codec.Unmarshal(b, e)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedRequest, err)
	}
	if version != CodecVersion {
		return nil, fmt.Errorf("%w: %d", errWrongCodecVersion, version)
	}
	return e, nil
}
