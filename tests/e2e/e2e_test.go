// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// e2e implements the e2e tests.
package e2e_test

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	ginkgo "github.com/onsi/ginkgo/v2"
	"github.com/onsi/ginkgo/v2/formatter"
	"github.com/onsi/gomega"

	"github.com/ava-labs/emulatorvm/client"
	"github.com/ava-labs/emulatorvm/emulatorvm"
	"github.com/ava-labs/emulatorvm/machine"
	"github.com/ava-labs/emulatorvm/merkle"
)

func TestE2e(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "emulatorvm e2e test suites")
}

var (
	requestTimeout time.Duration
	uri            string
)

func init() {
	flag.DurationVar(
		&requestTimeout,
		"request-timeout",
		120*time.Second,
		"timeout for a single request",
	)
	flag.StringVar(
		&uri,
		"uri",
		"",
		"emulator API endpoint; an in-process server is started when empty",
	)
}

var (
	server *httptest.Server
	vm     *emulatorvm.VM
	cli    client.Client
)

var _ = ginkgo.BeforeSuite(func() {
	if uri == "" {
		vm = &emulatorvm.VM{}
		gomega.Expect(vm.Initialize(emulatorvm.DefaultConfig(), emulatorvm.NewEmulator)).Should(gomega.Succeed())
		handlers, err := vm.CreateHandlers()
		gomega.Expect(err).Should(gomega.BeNil())

		mux := http.NewServeMux()
		for path, handler := range handlers {
			mux.Handle("/ext/"+emulatorvm.Name+path, handler)
		}
		server = httptest.NewServer(mux)
		uri = server.URL + "/ext/" + emulatorvm.Name
	}
	outf("{{blue}}emulator API:{{/}} %q\n", uri)
	cli = client.New(uri)
})

var _ = ginkgo.AfterSuite(func() {
	if server == nil {
		return
	}
	outf("{{red}}shutting down server{{/}}\n")
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	gomega.Expect(vm.Shutdown(ctx)).Should(gomega.Succeed())
	server.Close()
})

func counterSpec() machine.Spec {
	return machine.Spec{
		Regions: []machine.Region{{Start: 0, Log2Size: 3}},
		Program: []machine.Instruction{{Op: machine.OpAddi, Dst: 0, Imm: 1}},
	}
}

func fibSpec() machine.Spec {
	return machine.Spec{
		Regions: []machine.Region{{Start: 0x100, Log2Size: 4, Data: []byte{0, 0, 0, 0, 0, 0, 0, 0, 1}}},
		Program: []machine.Instruction{
			{Op: machine.OpMov, Dst: 0x110, Src: 0x108},
			{Op: machine.OpAdd, Dst: 0x108, Src: 0x100},
			{Op: machine.OpMov, Dst: 0x100, Src: 0x110},
		},
	}
}

var _ = ginkgo.Describe("[Session]", func() {
	ginkgo.It("steps a counter and proves the result", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		genesis, err := cli.NewSession(ctx, "e2e-counter", counterSpec())
		gomega.Ω(err).Should(gomega.BeNil())

		hashes, err := cli.Run(ctx, "e2e-counter", []uint64{0, 1})
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(hashes[0]).Should(gomega.Equal(genesis))

		stepLog, err := cli.Step(ctx, "e2e-counter", 0)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(stepLog.Accesses).Should(gomega.HaveLen(1))
		gomega.Ω(stepLog.Accesses[0].Operation).Should(gomega.Equal(machine.Write))
		gomega.Ω(stepLog.VerifyTransition(hashes[0], hashes[1])).Should(gomega.Succeed())

		proof, err := cli.GetProof(ctx, "e2e-counter", 1, 0, merkle.WordLog2Size)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(proof.RootHash).Should(gomega.Equal(hashes[1]))
		gomega.Ω(proof.Check()).Should(gomega.Succeed())

		gomega.Ω(cli.EndSession(ctx, "e2e-counter")).Should(gomega.Succeed())
	})

	ginkgo.It("verifies every step of a run", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		_, err := cli.NewSession(ctx, "e2e-fib", fibSpec())
		gomega.Ω(err).Should(gomega.BeNil())

		checkpoints := make([]uint64, 31)
		for i := range checkpoints {
			checkpoints[i] = uint64(i)
		}
		hashes, err := cli.Run(ctx, "e2e-fib", checkpoints)
		gomega.Ω(err).Should(gomega.BeNil())

		// walk backwards so every step rewinds through the snapshots
		for cycle := len(checkpoints) - 2; cycle >= 0; cycle-- {
			stepLog, err := cli.Step(ctx, "e2e-fib", uint64(cycle))
			gomega.Ω(err).Should(gomega.BeNil())
			gomega.Ω(stepLog.VerifyTransition(hashes[cycle], hashes[cycle+1])).Should(gomega.Succeed())
		}

		data, err := cli.ReadMemory(ctx, "e2e-fib", 30, 0x100, 16)
		gomega.Ω(err).Should(gomega.BeNil())
		gomega.Ω(data[0]).Should(gomega.Equal(byte(55)))
		gomega.Ω(data[8]).Should(gomega.Equal(byte(89)))

		gomega.Ω(cli.EndSession(ctx, "e2e-fib")).Should(gomega.Succeed())
	})

	ginkgo.It("reports errors by sentinel", func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		_, err := cli.Run(ctx, "e2e-missing", []uint64{1})
		gomega.Ω(err).Should(gomega.MatchError(emulatorvm.ErrSessionNotFound))

		_, err = cli.NewSession(ctx, "e2e-dup", counterSpec())
		gomega.Ω(err).Should(gomega.BeNil())
		_, err = cli.NewSession(ctx, "e2e-dup", counterSpec())
		gomega.Ω(err).Should(gomega.MatchError(emulatorvm.ErrDuplicateSessionID))

		_, err = cli.GetProof(ctx, "e2e-dup", 0, 4, merkle.WordLog2Size)
		gomega.Ω(err).Should(gomega.MatchError(emulatorvm.ErrMemoryAlignment))

		gomega.Ω(cli.EndSession(ctx, "e2e-dup")).Should(gomega.Succeed())
	})
})

// Outputs to stdout.
//
// e.g.,
//
//	Out("{{green}}{{bold}}hi there %q{{/}}", "aa")
//	Out("{{magenta}}{{bold}}hi therea{{/}} {{cyan}}{{underline}}b{{/}}")
//
// ref.
// https://github.com/onsi/ginkgo/blob/v2.0.0/formatter/formatter.go#L52-L73
func outf(format string, args ...interface{}) {
	s := formatter.F(format, args...)
	fmt.Fprint(formatter.ColorableStdOut, s)
}
