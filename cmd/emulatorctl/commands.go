// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ava-labs/emulatorvm/client"
	"github.com/ava-labs/emulatorvm/emulatorvm"
)

const defaultEndpoint = "http://127.0.0.1:9650/ext/" + emulatorvm.Name

var (
	endpoint       string
	requestTimeout time.Duration
	sessionID      string
	evidencePath   string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "emulatorctl",
		Short:         "Drive deterministic machine emulation sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", defaultEndpoint, "emulator API endpoint")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 5*time.Minute, "request timeout")

	newCmd := &cobra.Command{
		Use:   "new spec_file",
		Short: "Create a session from a YAML or JSON machine spec",
		Args:  cobra.ExactArgs(1),
		RunE:  runNew,
	}
	newCmd.Flags().StringVar(&sessionID, "id", "", "session id, generated when empty")

	stepCmd := &cobra.Command{
		Use:   "step session_id cycle",
		Short: "Execute one step and print its access log",
		Args:  cobra.ExactArgs(2),
		RunE:  runStep,
	}
	stepCmd.Flags().StringVar(&evidencePath, "evidence", "", "also write binary step evidence to this file")

	rootCmd.AddCommand(
		newCmd,
		&cobra.Command{
			Use:   "run session_id cycle...",
			Short: "Run to each checkpoint and print the state hashes",
			Args:  cobra.MinimumNArgs(2),
			RunE:  runRun,
		},
		stepCmd,
		&cobra.Command{
			Use:   "read session_id cycle address length",
			Short: "Read memory at a cycle",
			Args:  cobra.ExactArgs(4),
			RunE:  runRead,
		},
		&cobra.Command{
			Use:   "proof session_id cycle address log2_size",
			Short: "Print and check the proof of a memory range",
			Args:  cobra.ExactArgs(4),
			RunE:  runProof,
		},
		&cobra.Command{
			Use:   "write session_id cycle address hex_data",
			Short: "Patch memory at a cycle",
			Args:  cobra.ExactArgs(4),
			RunE:  runWrite,
		},
		&cobra.Command{
			Use:   "end session_id",
			Short: "Destroy a session",
			Args:  cobra.ExactArgs(1),
			RunE:  runEnd,
		},
		&cobra.Command{
			Use:   "verify evidence_file",
			Short: "Check step evidence offline",
			Args:  cobra.ExactArgs(1),
			RunE:  runVerify,
		},
	)
	return rootCmd
}

func runNew(cmd *cobra.Command, args []string) error {
	spec, err := loadSpec(args[0])
	if err != nil {
		return err
	}
	id := sessionID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	hash, err := client.New(endpoint).NewSession(ctx, id, spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", id, hash)
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	checkpoints, err := parseUints(args[1:])
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	hashes, err := client.New(endpoint).Run(ctx, args[0], checkpoints)
	if err != nil {
		return err
	}
	for i, hash := range hashes {
		fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", checkpoints[i], hash)
	}
	return nil
}

func runStep(cmd *cobra.Command, args []string) error {
	cycle, err := parseUint(args[1])
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	cli := client.New(endpoint)
	evidence := &emulatorvm.Evidence{SessionID: args[0], Cycle: cycle}
	if evidencePath != "" {
		hashes, err := cli.Run(ctx, args[0], []uint64{cycle})
		if err != nil {
			return err
		}
		evidence.RootBefore = hashes[0]
	}
	evidence.Log, err = cli.Step(ctx, args[0], cycle)
	if err != nil {
		return err
	}
	if evidencePath != "" {
		hashes, err := cli.Run(ctx, args[0], []uint64{cycle + 1})
		if err != nil {
			return err
		}
		evidence.RootAfter = hashes[0]
		if err := writeEvidence(evidencePath, evidence); err != nil {
			return err
		}
	}
	return printJSON(cmd.OutOrStdout(), evidence.Log)
}

func runRead(cmd *cobra.Command, args []string) error {
	values, err := parseUints(args[1:])
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	data, err := client.New(endpoint).ReadMemory(ctx, args[0], values[0], values[1], values[2])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(data))
	return nil
}

func runProof(cmd *cobra.Command, args []string) error {
	values, err := parseUints(args[1:])
	if err != nil {
		return err
	}
	if values[2] > 64 {
		return fmt.Errorf("%w: log2 size %d", emulatorvm.ErrMemoryAlignment, values[2])
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	proof, err := client.New(endpoint).GetProof(ctx, args[0], values[0], values[1], uint32(values[2]))
	if err != nil {
		return err
	}
	if err := proof.Check(); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), proof)
}

func runWrite(cmd *cobra.Command, args []string) error {
	values, err := parseUints(args[1:3])
	if err != nil {
		return err
	}
	data, err := hexutil.Decode(args[3])
	if err != nil {
		return fmt.Errorf("%w: %s", emulatorvm.ErrMalformedRequest, err)
	}
	ctx, cancel := requestContext(cmd)
	defer cancel()

	hash, err := client.New(endpoint).WriteMemory(ctx, args[0], values[0], values[1], data)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}

func runEnd(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()
	return client.New(endpoint).EndSession(ctx, args[0])
}

func runVerify(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	evidence, err := emulatorvm.ParseEvidence(raw)
	if err != nil {
		return err
	}
	if err := evidence.Verify(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "step %d of %s verified: %s -> %s\n",
		evidence.Cycle, evidence.SessionID, evidence.RootBefore, evidence.RootAfter)
	return nil
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, requestTimeout)
}

func writeEvidence(path string, evidence *emulatorvm.Evidence) error {
	b, err := evidence.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", emulatorvm.ErrMalformedRequest, err)
	}
	return v, nil
}

func parseUints(args []string) ([]uint64, error) {
	values := make([]uint64, len(args))
	for i, arg := range args {
		v, err := parseUint(arg)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
