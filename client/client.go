// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"

	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/rpc"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/ava-labs/emulatorvm/emulatorvm"
	"github.com/ava-labs/emulatorvm/machine"
	"github.com/ava-labs/emulatorvm/merkle"
)

// Client defines emulatorvm client operations.
type Client interface {
	// NewSession creates a session running [spec] and returns its cycle 0 hash
	NewSession(ctx context.Context, sessionID string, spec machine.Spec) (merkle.Hash, error)

	// Run returns the state hash at each checkpoint
	Run(ctx context.Context, sessionID string, checkpoints []uint64) ([]merkle.Hash, error)

	// Step returns the access log of the step starting at [cycle]
	Step(ctx context.Context, sessionID string, cycle uint64) (machine.StepLog, error)

	ReadMemory(ctx context.Context, sessionID string, cycle, address, length uint64) ([]byte, error)

	GetProof(ctx context.Context, sessionID string, cycle, address uint64, log2Size uint32) (merkle.Proof, error)

	// WriteMemory patches memory at [cycle] and returns the new state hash
	WriteMemory(ctx context.Context, sessionID string, cycle, address uint64, data []byte) (merkle.Hash, error)

	EndSession(ctx context.Context, sessionID string) error
}

// New creates a new client object. [uri] is the endpoint of the emulator
// service, e.g. http://127.0.0.1:9650/ext/emulator
func New(uri string) Client {
	req := rpc.NewEndpointRequester(uri, "", emulatorvm.Name)
	return &client{req: req}
}

type client struct {
	req rpc.EndpointRequester
}

func (cli *client) NewSession(ctx context.Context, sessionID string, spec machine.Spec) (merkle.Hash, error) {
	resp := new(emulatorvm.HashReply)
	err := cli.sendRequest(ctx,
		"newSession",
		&emulatorvm.NewSessionArgs{SessionID: sessionID, Machine: &spec},
		resp,
	)
	return resp.Hash, err
}

func (cli *client) Run(ctx context.Context, sessionID string, checkpoints []uint64) ([]merkle.Hash, error) {
	args := &emulatorvm.SessionRunArgs{
		SessionID:   sessionID,
		Checkpoints: make([]cjson.Uint64, len(checkpoints)),
	}
	for i, c := range checkpoints {
		args.Checkpoints[i] = cjson.Uint64(c)
	}
	resp := new(emulatorvm.SessionRunReply)
	if err := cli.sendRequest(ctx, "sessionRun", args, resp); err != nil {
		return nil, err
	}
	return resp.Hashes, nil
}

func (cli *client) Step(ctx context.Context, sessionID string, cycle uint64) (machine.StepLog, error) {
	resp := new(emulatorvm.SessionStepReply)
	err := cli.sendRequest(ctx,
		"sessionStep",
		&emulatorvm.SessionStepArgs{SessionID: sessionID, Cycle: u64(cycle)},
		resp,
	)
	return resp.Log, err
}

func (cli *client) ReadMemory(ctx context.Context, sessionID string, cycle, address, length uint64) ([]byte, error) {
	resp := new(emulatorvm.SessionReadMemoryReply)
	err := cli.sendRequest(ctx,
		"sessionReadMemory",
		&emulatorvm.SessionReadMemoryArgs{
			SessionID: sessionID,
			Cycle:     u64(cycle),
			Address:   u64(address),
			Length:    u64(length),
		},
		resp,
	)
	if err != nil {
		return nil, err
	}
	return formatting.Decode(resp.Encoding, resp.Data)
}

func (cli *client) GetProof(ctx context.Context, sessionID string, cycle, address uint64, log2Size uint32) (merkle.Proof, error) {
	size := cjson.Uint32(log2Size)
	resp := new(merkle.Proof)
	err := cli.sendRequest(ctx,
		"sessionGetProof",
		&emulatorvm.SessionGetProofArgs{
			SessionID: sessionID,
			Cycle:     u64(cycle),
			Address:   u64(address),
			Log2Size:  &size,
		},
		resp,
	)
	return *resp, err
}

func (cli *client) WriteMemory(ctx context.Context, sessionID string, cycle, address uint64, data []byte) (merkle.Hash, error) {
	encoded, err := formatting.EncodeWithChecksum(formatting.Hex, data)
	if err != nil {
		return merkle.Hash{}, err
	}
	resp := new(emulatorvm.HashReply)
	err = cli.sendRequest(ctx,
		"sessionWriteMemory",
		&emulatorvm.SessionWriteMemoryArgs{
			SessionID: sessionID,
			Cycle:     u64(cycle),
			Address:   u64(address),
			Data:      encoded,
		},
		resp,
	)
	return resp.Hash, err
}

func (cli *client) EndSession(ctx context.Context, sessionID string) error {
	return cli.sendRequest(ctx,
		"endSession",
		&emulatorvm.SessionIDArgs{SessionID: sessionID},
		&emulatorvm.EmptyReply{},
	)
}

// sendRequest performs a JSON-RPC call. Errors reported by the service unwrap
// to the matching emulatorvm sentinel.
func (cli *client) sendRequest(ctx context.Context, method string, args, reply interface{}) error {
	return emulatorvm.FromRPCError(cli.req.SendRequest(ctx, method, args, reply))
}

func u64(v uint64) *cjson.Uint64 {
	c := cjson.Uint64(v)
	return &c
}
