// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/go-playground/validator/v10"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/ava-labs/emulatorvm/machine"
	"github.com/ava-labs/emulatorvm/merkle"
)

var validate = validator.New()

// Service is the API service for this VM
type Service struct{ vm *VM }

// NewSessionArgs are the arguments to NewSession
type NewSessionArgs struct {
	SessionID string        `json:"sessionID" validate:"required"`
	Machine   *machine.Spec `json:"machine"   validate:"required"`
}

// HashReply is a reply holding a state hash
type HashReply struct {
	Hash merkle.Hash `json:"hash"`
}

// NewSession builds the machine described by [args].Machine and registers it
// under [args].SessionID
func (s *Service) NewSession(r *http.Request, args *NewSessionArgs, reply *HashReply) (err error) {
	ctx, done := s.begin(r, "newSession", &err)
	defer done()

	if err := checkArgs(args); err != nil {
		return err
	}
	hash, err := s.vm.manager.CreateSession(ctx, args.SessionID, *args.Machine)
	if err != nil {
		return err
	}
	reply.Hash = hash
	return nil
}

// SessionRunArgs are the arguments to SessionRun
type SessionRunArgs struct {
	SessionID   string         `json:"sessionID"   validate:"required"`
	Checkpoints []cjson.Uint64 `json:"checkpoints" validate:"required,min=1"`
}

// SessionRunReply holds one state hash per checkpoint
type SessionRunReply struct {
	Hashes []merkle.Hash `json:"hashes"`
}

// SessionRun runs the session through [args].Checkpoints
func (s *Service) SessionRun(r *http.Request, args *SessionRunArgs, reply *SessionRunReply) (err error) {
	ctx, done := s.begin(r, "sessionRun", &err)
	defer done()

	if err := checkArgs(args); err != nil {
		return err
	}
	session, err := s.vm.manager.Lookup(args.SessionID)
	if err != nil {
		return err
	}
	checkpoints := make([]uint64, len(args.Checkpoints))
	for i, c := range args.Checkpoints {
		checkpoints[i] = uint64(c)
	}
	hashes, err := session.Run(ctx, checkpoints)
	if err != nil {
		return err
	}
	reply.Hashes = hashes
	return nil
}

// SessionStepArgs are the arguments to SessionStep
type SessionStepArgs struct {
	SessionID string        `json:"sessionID" validate:"required"`
	Cycle     *cjson.Uint64 `json:"cycle"     validate:"required"`
}

// SessionStepReply holds the access log of a step
type SessionStepReply struct {
	Log machine.StepLog `json:"log"`
}

// SessionStep executes the step starting at [args].Cycle
func (s *Service) SessionStep(r *http.Request, args *SessionStepArgs, reply *SessionStepReply) (err error) {
	ctx, done := s.begin(r, "sessionStep", &err)
	defer done()

	if err := checkArgs(args); err != nil {
		return err
	}
	session, err := s.vm.manager.Lookup(args.SessionID)
	if err != nil {
		return err
	}
	stepLog, err := session.Step(ctx, uint64(*args.Cycle))
	if err != nil {
		return err
	}
	reply.Log = stepLog
	return nil
}

// SessionReadMemoryArgs are the arguments to SessionReadMemory
type SessionReadMemoryArgs struct {
	SessionID string        `json:"sessionID" validate:"required"`
	Cycle     *cjson.Uint64 `json:"cycle"     validate:"required"`
	Address   *cjson.Uint64 `json:"address"   validate:"required"`
	Length    *cjson.Uint64 `json:"length"    validate:"required"`
}

// SessionReadMemoryReply holds encoded memory contents
type SessionReadMemoryReply struct {
	Data     string              `json:"data"`
	Encoding formatting.Encoding `json:"encoding"`
}

// SessionReadMemory reads memory of the machine at [args].Cycle
func (s *Service) SessionReadMemory(r *http.Request, args *SessionReadMemoryArgs, reply *SessionReadMemoryReply) (err error) {
	ctx, done := s.begin(r, "sessionReadMemory", &err)
	defer done()

	if err := checkArgs(args); err != nil {
		return err
	}
	session, err := s.vm.manager.Lookup(args.SessionID)
	if err != nil {
		return err
	}
	data, err := session.ReadMemory(ctx, uint64(*args.Cycle), uint64(*args.Address), uint64(*args.Length))
	if err != nil {
		return err
	}
	encoded, err := formatting.EncodeWithChecksum(formatting.Hex, data)
	if err != nil {
		return fmt.Errorf("couldn't encode memory as string: %w", err)
	}
	reply.Data = encoded
	reply.Encoding = formatting.Hex
	return nil
}

// SessionGetProofArgs are the arguments to SessionGetProof
type SessionGetProofArgs struct {
	SessionID string        `json:"sessionID" validate:"required"`
	Cycle     *cjson.Uint64 `json:"cycle"     validate:"required"`
	Address   *cjson.Uint64 `json:"address"   validate:"required"`
	Log2Size  *cjson.Uint32 `json:"log2Size"  validate:"required"`
}

// SessionGetProof returns a proof of a memory range of the machine at
// [args].Cycle
func (s *Service) SessionGetProof(r *http.Request, args *SessionGetProofArgs, reply *merkle.Proof) (err error) {
	ctx, done := s.begin(r, "sessionGetProof", &err)
	defer done()

	if err := checkArgs(args); err != nil {
		return err
	}
	session, err := s.vm.manager.Lookup(args.SessionID)
	if err != nil {
		return err
	}
	proof, err := session.GetProof(ctx, uint64(*args.Cycle), uint64(*args.Address), uint32(*args.Log2Size))
	if err != nil {
		return err
	}
	*reply = proof
	return nil
}

// SessionWriteMemoryArgs are the arguments to SessionWriteMemory. [Data] is
// hex encoded.
type SessionWriteMemoryArgs struct {
	SessionID string        `json:"sessionID" validate:"required"`
	Cycle     *cjson.Uint64 `json:"cycle"     validate:"required"`
	Address   *cjson.Uint64 `json:"address"   validate:"required"`
	Data      string        `json:"data"      validate:"required"`
}

// SessionWriteMemory patches memory of the machine at [args].Cycle
func (s *Service) SessionWriteMemory(r *http.Request, args *SessionWriteMemoryArgs, reply *HashReply) (err error) {
	ctx, done := s.begin(r, "sessionWriteMemory", &err)
	defer done()

	if err := checkArgs(args); err != nil {
		return err
	}
	data, err := formatting.Decode(formatting.Hex, args.Data)
	if err != nil {
		return fmt.Errorf("%w: couldn't decode data: %s", ErrMalformedRequest, err)
	}
	session, err := s.vm.manager.Lookup(args.SessionID)
	if err != nil {
		return err
	}
	hash, err := session.WriteMemory(ctx, uint64(*args.Cycle), uint64(*args.Address), data)
	if err != nil {
		return err
	}
	reply.Hash = hash
	return nil
}

// EmptyReply indicates that an api doesn't have a response to return.
type EmptyReply struct{}

// SessionIDArgs is a request where the only argument is a session id
type SessionIDArgs struct {
	SessionID string `json:"sessionID" validate:"required"`
}

// EndSession destroys the session [args].SessionID
func (s *Service) EndSession(r *http.Request, args *SessionIDArgs, _ *EmptyReply) (err error) {
	ctx, done := s.begin(r, "endSession", &err)
	defer done()

	if err := checkArgs(args); err != nil {
		return err
	}
	return s.vm.manager.Destroy(ctx, args.SessionID)
}

// begin returns the context of a request to [method]. The returned func must
// be deferred: it records the outcome and converts *[errp] to a JSON-RPC
// error.
func (s *Service) begin(r *http.Request, method string, errp *error) (context.Context, func()) {
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}
	cancel := func() {}
	if s.vm.config.RequestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.vm.config.RequestTimeout)
	}
	start := time.Now()
	return ctx, func() {
		cancel()
		s.vm.manager.metrics.observe(method, start, *errp)
		if *errp != nil {
			s.vm.log.Debug("request failed", "method", method, "err", *errp)
		}
		*errp = toRPCError(*errp)
	}
}

func checkArgs(args interface{}) error {
	if err := validate.Struct(args); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedRequest, err)
	}
	return nil
}
