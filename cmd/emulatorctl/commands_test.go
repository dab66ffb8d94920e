// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/emulatorvm/emulatorvm"
	"github.com/ava-labs/emulatorvm/machine"
)

func startServer(t *testing.T) string {
	vm := &emulatorvm.VM{}
	require.NoError(t, vm.Initialize(emulatorvm.DefaultConfig(), emulatorvm.NewEmulator))
	handlers, err := vm.CreateHandlers()
	require.NoError(t, err)
	mux := http.NewServeMux()
	for path, handler := range handlers {
		mux.Handle("/ext/"+emulatorvm.Name+path, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server.URL + "/ext/" + emulatorvm.Name
}

func execute(t *testing.T, args ...string) (string, error) {
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadSpec(t *testing.T) {
	require := require.New(t)

	counter, err := loadSpec(filepath.Join("testdata", "counter.yaml"))
	require.NoError(err)
	require.Equal([]byte{1, 0, 0, 0, 0, 0, 0, 0}, []byte(counter.Regions[0].Data))
	require.Equal(machine.OpAddi, counter.Program[0].Op)

	fib, err := loadSpec(filepath.Join("testdata", "fib.json"))
	require.NoError(err)
	require.Equal(uint64(0x100), fib.Regions[0].Start)
	require.Len(fib.Program, 3)

	_, err = parseSpec([]byte("program: [{op: jmp}]"), false)
	require.ErrorIs(err, machine.ErrInvalidSpec)
}

func TestCommands(t *testing.T) {
	require := require.New(t)
	uri := startServer(t)
	dir := t.TempDir()

	out, err := execute(t, "--endpoint", uri, "new", "--id", "cli", filepath.Join("testdata", "counter.yaml"))
	require.NoError(err)
	require.True(strings.HasPrefix(out, "cli 0x"))

	out, err = execute(t, "--endpoint", uri, "run", "cli", "1", "0x10")
	require.NoError(err)
	require.Len(strings.Split(strings.TrimSpace(out), "\n"), 2)

	out, err = execute(t, "--endpoint", uri, "read", "cli", "4", "0", "8")
	require.NoError(err)
	require.Equal("0x0500000000000000\n", out)

	evidence := filepath.Join(dir, "step.bin")
	out, err = execute(t, "--endpoint", uri, "step", "--evidence", evidence, "cli", "2")
	require.NoError(err)
	require.Contains(out, `"operation": "write"`)

	out, err = execute(t, "verify", evidence)
	require.NoError(err)
	require.Contains(out, "step 2 of cli verified")

	_, err = execute(t, "--endpoint", uri, "proof", "cli", "3", "0", "3")
	require.NoError(err)

	_, err = execute(t, "--endpoint", uri, "write", "cli", "3", "0", "0x0900000000000000")
	require.NoError(err)
	out, err = execute(t, "--endpoint", uri, "read", "cli", "4", "0", "8")
	require.NoError(err)
	require.Equal("0x0a00000000000000\n", out)

	_, err = execute(t, "--endpoint", uri, "end", "cli")
	require.NoError(err)
	_, err = execute(t, "--endpoint", uri, "end", "cli")
	require.ErrorIs(err, emulatorvm.ErrSessionNotFound)
}

func TestNewGeneratesID(t *testing.T) {
	require := require.New(t)
	uri := startServer(t)

	out, err := execute(t, "--endpoint", uri, "new", filepath.Join("testdata", "fib.json"))
	require.NoError(err)
	fields := strings.Fields(out)
	require.Len(fields, 2)
	require.Len(fields[0], 36)
}
