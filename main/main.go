// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/emulatorvm/emulatorvm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	v, err := getViper()
	if err != nil {
		fmt.Printf("couldn't get config: %s\n", err)
		os.Exit(1)
	}
	p, err := getParams(v)
	if err != nil {
		fmt.Printf("couldn't parse config: %s\n", err)
		os.Exit(1)
	}
	// Print version and exit
	if p.version {
		fmt.Printf("%s@%s\n", emulatorvm.Name, emulatorvm.Version)
		os.Exit(0)
	}

	log.Root().SetHandler(log.LvlFilterHandler(p.logLevel, log.StreamHandler(os.Stderr, p.logFormat)))

	if err := serve(p); err != nil {
		log.Error("serve returned an error", "err", err)
		os.Exit(1)
	}
}

func serve(p *params) error {
	vm := &emulatorvm.VM{}
	if err := vm.Initialize(p.config, emulatorvm.NewEmulator); err != nil {
		return err
	}
	handlers, err := vm.CreateHandlers()
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	for path, handler := range handlers {
		mux.Handle("/ext/"+emulatorvm.Name+path, handler)
	}

	server := &http.Server{
		Addr:              net.JoinHostPort(p.httpHost, strconv.FormatUint(uint64(p.httpPort), 10)),
		Handler:           mux,
		ReadHeaderTimeout: p.readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		log.Info("serving emulator API", "address", server.Addr)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return vm.Shutdown(shutdownCtx)
}
