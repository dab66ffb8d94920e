// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"context"
	"errors"

	"github.com/gorilla/rpc/v2/json2"

	"github.com/ava-labs/emulatorvm/merkle"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrDuplicateSessionID = errors.New("duplicate session id")
	ErrInvalidCycleOrder  = errors.New("invalid cycle order")
	ErrMalformedRequest   = errors.New("malformed request")

	ErrMemoryAlignment         = merkle.ErrMisaligned
	ErrProofVerificationFailed = merkle.ErrProofVerificationFailed
)

// JSON-RPC error codes of the sentinel errors. They are part of the wire
// contract and must not be renumbered.
const (
	CodeSessionNotFound         json2.ErrorCode = -32001
	CodeDuplicateSessionID      json2.ErrorCode = -32002
	CodeInvalidCycleOrder       json2.ErrorCode = -32003
	CodeMemoryAlignment         json2.ErrorCode = -32004
	CodeProofVerificationFailed json2.ErrorCode = -32005
	CodeMalformedRequest        json2.ErrorCode = -32006
	CodeTimeout                 json2.ErrorCode = -32007
)

var errorCodes = []struct {
	err  error
	code json2.ErrorCode
}{
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrDuplicateSessionID, CodeDuplicateSessionID},
	{ErrInvalidCycleOrder, CodeInvalidCycleOrder},
	{ErrMemoryAlignment, CodeMemoryAlignment},
	{ErrProofVerificationFailed, CodeProofVerificationFailed},
	{ErrMalformedRequest, CodeMalformedRequest},
	{context.DeadlineExceeded, CodeTimeout},
}

// toRPCError attaches the JSON-RPC code of the sentinel wrapped by [err]
func toRPCError(err error) error {
	if err == nil {
		return nil
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return &json2.Error{Code: e.code, Message: err.Error()}
		}
	}
	return err
}

// RemoteError is an error returned by a remote emulator service. It unwraps to
// the sentinel error matching its code, if any.
type RemoteError struct {
	Code    json2.ErrorCode
	Message string
	cause   error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return e.cause }

// FromRPCError converts an error decoded from a JSON-RPC response back into an
// error that matches the original sentinel with errors.Is
func FromRPCError(err error) error {
	var jsonErr *json2.Error
	if !errors.As(err, &jsonErr) {
		return err
	}
	remote := &RemoteError{Code: jsonErr.Code, Message: jsonErr.Message}
	for _, e := range errorCodes {
		if e.code == jsonErr.Code {
			remote.cause = e.err
			break
		}
	}
	return remote
}
