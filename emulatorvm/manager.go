// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cornelk/hashmap"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/emulatorvm/machine"
	"github.com/ava-labs/emulatorvm/merkle"
)

// initial bucket count of the session registry
const registrySize = 64

// MachineFactory builds the cycle 0 machine described by a spec. It must
// return once [ctx] is done.
type MachineFactory func(ctx context.Context, spec machine.Spec) (machine.Machine, error)

// NewEmulator is the MachineFactory of the reference emulator
func NewEmulator(ctx context.Context, spec machine.Spec) (machine.Machine, error) {
	return machine.New(ctx, spec)
}

// Manager owns the sessions. Sessions are independent of each other, so
// operations on different sessions run in parallel.
type Manager struct {
	config   Config
	factory  MachineFactory
	sessions *hashmap.HashMap // string -> *Session

	metrics *metrics
	log     log.Logger
}

// NewManager returns an empty manager registering its metrics with
// [registerer]
func NewManager(config Config, factory MachineFactory, registerer prometheus.Registerer) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	metrics, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}
	return &Manager{
		config:   config,
		factory:  factory,
		sessions: hashmap.New(registrySize),
		metrics:  metrics,
		log:      log.New("module", "manager"),
	}, nil
}

// CreateSession builds the machine described by [spec] and registers it under
// [id]. Returns the cycle 0 state hash.
func (m *Manager) CreateSession(ctx context.Context, id string, spec machine.Spec) (merkle.Hash, error) {
	if id == "" {
		return merkle.Hash{}, fmt.Errorf("%w: empty session id", ErrMalformedRequest)
	}
	if _, ok := m.sessions.Get(id); ok {
		return merkle.Hash{}, fmt.Errorf("%w: %s", ErrDuplicateSessionID, id)
	}
	mach, err := m.factory(ctx, spec)
	if err != nil {
		if errors.Is(err, machine.ErrInvalidSpec) {
			return merkle.Hash{}, fmt.Errorf("%w: %s", ErrMalformedRequest, err)
		}
		return merkle.Hash{}, err
	}
	hash := mach.RootHash()

	session := newSession(id, mach, m.config.MaxSnapshots, m.metrics, m.log)
	if _, loaded := m.sessions.GetOrInsert(id, session); loaded {
		return merkle.Hash{}, fmt.Errorf("%w: %s", ErrDuplicateSessionID, id)
	}
	m.metrics.sessions.Inc()
	m.log.Info("session created", "session", id, "hash", hash)
	return hash, nil
}

// Lookup returns the session registered under [id]
func (m *Manager) Lookup(id string) (*Session, error) {
	value, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return value.(*Session), nil
}

// Destroy unregisters the session [id] and releases its state once the
// operation in flight on it, if any, returns
func (m *Manager) Destroy(ctx context.Context, id string) error {
	session, err := m.Lookup(id)
	if err != nil {
		return err
	}
	// only the caller that closes the session unregisters it
	if err := session.Close(ctx); err != nil {
		return err
	}
	m.sessions.Del(id)
	m.metrics.sessions.Dec()
	m.log.Info("session destroyed", "session", id)
	return nil
}

// Len returns the number of live sessions
func (m *Manager) Len() int { return m.sessions.Len() }

// Shutdown destroys every session
func (m *Manager) Shutdown(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for kv := range m.sessions.Iter() {
		id := kv.Key.(string)
		g.Go(func() error {
			err := m.Destroy(ctx, id)
			if errors.Is(err, ErrSessionNotFound) {
				// destroyed concurrently
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
