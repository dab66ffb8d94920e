// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ava-labs/emulatorvm/machine"
)

func TestManagerCreateSession(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m := newTestManager(t, 4)
	hash, err := m.CreateSession(ctx, "a", counterSpec())
	require.NoError(err)

	expected, err := machine.New(context.Background(), counterSpec())
	require.NoError(err)
	require.Equal(expected.RootHash(), hash)

	_, err = m.CreateSession(ctx, "a", fibSpec())
	require.ErrorIs(err, ErrDuplicateSessionID)

	// the existing session is untouched
	s, err := m.Lookup("a")
	require.NoError(err)
	hashes, err := s.Run(ctx, []uint64{0})
	require.NoError(err)
	require.Equal(hash, hashes[0])

	_, err = m.CreateSession(ctx, "", counterSpec())
	require.ErrorIs(err, ErrMalformedRequest)
	_, err = m.CreateSession(ctx, "bad", machine.Spec{Program: []machine.Instruction{{Op: "jmp"}}})
	require.ErrorIs(err, ErrMalformedRequest)
	require.Equal(1, m.Len())
}

func TestManagerDestroy(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m := newTestManager(t, 4)
	_, err := m.CreateSession(ctx, "a", counterSpec())
	require.NoError(err)
	s, err := m.Lookup("a")
	require.NoError(err)

	require.NoError(m.Destroy(ctx, "a"))
	require.ErrorIs(m.Destroy(ctx, "a"), ErrSessionNotFound)
	_, err = m.Lookup("a")
	require.ErrorIs(err, ErrSessionNotFound)
	_, err = s.Run(ctx, []uint64{1})
	require.ErrorIs(err, ErrSessionNotFound)

	// the id can be reused
	_, err = m.CreateSession(ctx, "a", fibSpec())
	require.NoError(err)
}

func TestManagerDuplicateRace(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, 4)
	var created int32
	g := errgroup.Group{}
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := m.CreateSession(context.Background(), "shared", counterSpec())
			if err == nil {
				atomic.AddInt32(&created, 1)
				return nil
			}
			if !errors.Is(err, ErrDuplicateSessionID) {
				return err
			}
			return nil
		})
	}
	require.NoError(g.Wait())
	require.Equal(int32(1), created)
	require.Equal(1, m.Len())
}

func TestManagerIndependentSessions(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	m := newTestManager(t, 4)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("session-%d", i)
		cycle := uint64(100 * (i + 1))
		g.Go(func() error {
			if _, err := m.CreateSession(gctx, id, counterSpec()); err != nil {
				return err
			}
			s, err := m.Lookup(id)
			if err != nil {
				return err
			}
			_, err = s.Run(gctx, []uint64{cycle})
			return err
		})
	}
	require.NoError(g.Wait())

	for i := 0; i < 8; i++ {
		s, err := m.Lookup(fmt.Sprintf("session-%d", i))
		require.NoError(err)
		require.Equal(uint64(100*(i+1)), s.CurrentCycle())
	}
}

func TestManagerShutdown(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	registry := prometheus.NewRegistry()
	m, err := NewManager(DefaultConfig(), NewEmulator, registry)
	require.NoError(err)
	for i := 0; i < 5; i++ {
		_, err := m.CreateSession(ctx, fmt.Sprintf("s%d", i), counterSpec())
		require.NoError(err)
	}
	require.Equal(float64(5), testutil.ToFloat64(m.metrics.sessions))

	require.NoError(m.Shutdown(ctx))
	require.Zero(m.Len())
	require.Zero(testutil.ToFloat64(m.metrics.sessions))
}

func TestManagerInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.MaxSnapshots = 1
	_, err := NewManager(config, NewEmulator, prometheus.NewRegistry())
	require.ErrorIs(t, err, errInvalidConfig)
}

func TestManagerCreateSessionCancelled(t *testing.T) {
	require := require.New(t)

	m := newTestManager(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	spec := machine.Spec{Regions: []machine.Region{{Start: 0, Log2Size: 20, Data: make([]byte, 1<<20)}}}
	_, err := m.CreateSession(ctx, "big", spec)
	require.ErrorIs(err, context.Canceled)
	require.Zero(m.Len())
}
