// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"context"
	"errors"

	"github.com/gorilla/rpc/v2"
	"github.com/prometheus/client_golang/prometheus"

	log "github.com/inconshreveable/log15"
)

const (
	Name    = "emulator"
	Version = "v0.1.0"
)

var errNotInitialized = errors.New("vm is not initialized")

// VM serves deterministic machine emulation sessions over JSON-RPC
type VM struct {
	config  Config
	manager *Manager
	codecs  map[string]rpc.Codec

	gatherer prometheus.Gatherer
	log      log.Logger
}

// Option customizes a VM
type Option func(*VM)

// WithCodecs serves the API with [codecs] keyed by content type
func WithCodecs(codecs map[string]rpc.Codec) Option {
	return func(vm *VM) { vm.codecs = codecs }
}

// WithRegistry registers the VM metrics with [registry] instead of a private
// registry
func WithRegistry(registry *prometheus.Registry) Option {
	return func(vm *VM) { vm.gatherer = registry }
}

// Initialize this vm
// [config] bounds the resources of every session
// [factory] builds the machine of each new session
func (vm *VM) Initialize(config Config, factory MachineFactory, opts ...Option) error {
	for _, opt := range opts {
		opt(vm)
	}
	vm.log = log.New("module", Name)
	registry, ok := vm.gatherer.(*prometheus.Registry)
	if !ok {
		registry = prometheus.NewRegistry()
		vm.gatherer = registry
	}

	manager, err := NewManager(config, factory, registry)
	if err != nil {
		vm.log.Error("error initializing emulator VM", "err", err)
		return err
	}
	vm.config = config
	vm.manager = manager
	vm.log.Info("Initializing emulator VM", "Version", Version,
		"maxSnapshots", config.MaxSnapshots, "requestTimeout", config.RequestTimeout)
	return nil
}

// Manager returns the session manager of [vm]
func (vm *VM) Manager() *Manager { return vm.manager }

// HealthCheck reports the number of live sessions
func (vm *VM) HealthCheck() (interface{}, error) {
	if vm.manager == nil {
		return map[string]interface{}{"healthy": false}, errNotInitialized
	}
	return map[string]interface{}{
		"healthy":  true,
		"sessions": vm.manager.Len(),
	}, nil
}

// Shutdown destroys every session
func (vm *VM) Shutdown(ctx context.Context) error {
	if vm.manager == nil {
		return nil
	}
	return vm.manager.Shutdown(ctx)
}
