// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ava-labs/emulatorvm/machine"
)

func machineAt(t *testing.T, cycle uint64) machine.Machine {
	m, err := machine.New(context.Background(), counterSpec())
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background(), cycle))
	return m
}

func TestSnapshotStoreEviction(t *testing.T) {
	require := require.New(t)

	s := NewSnapshotStore(machineAt(t, 0), 3)
	s.Put(machineAt(t, 10))
	s.Put(machineAt(t, 20))
	require.Equal([]uint64{0, 10, 20}, s.Cycles())

	s.Put(machineAt(t, 30))
	require.Equal([]uint64{0, 20, 30}, s.Cycles())

	// replacing an existing cycle does not evict
	s.Put(machineAt(t, 20))
	require.Equal([]uint64{0, 20, 30}, s.Cycles())
	require.Equal(3, s.Len())
}

func TestSnapshotStoreMinimumCapacity(t *testing.T) {
	require := require.New(t)

	s := NewSnapshotStore(machineAt(t, 0), 0)
	require.Equal(MinSnapshots, s.Capacity())
	for _, cycle := range []uint64{5, 3, 9} {
		s.Put(machineAt(t, cycle))
	}
	require.Equal([]uint64{0, 9}, s.Cycles())
}

func TestSnapshotStoreNearest(t *testing.T) {
	require := require.New(t)

	s := NewSnapshotStore(machineAt(t, 0), 8)
	s.Put(machineAt(t, 4))
	s.Put(machineAt(t, 12))

	tests := []struct {
		cycle    uint64
		expected uint64
	}{
		{0, 0},
		{3, 0},
		{4, 4},
		{11, 4},
		{12, 12},
		{1 << 40, 12},
	}
	for _, test := range tests {
		m, ok := s.Nearest(test.cycle)
		require.True(ok)
		require.Equal(test.expected, m.Cycle())
	}
}

func TestSnapshotStoreTruncate(t *testing.T) {
	require := require.New(t)

	s := NewSnapshotStore(machineAt(t, 0), 8)
	s.Put(machineAt(t, 4))
	s.Put(machineAt(t, 12))
	s.Truncate(5)
	require.Equal([]uint64{0, 4}, s.Cycles())

	s.Truncate(0)
	require.Zero(s.Len())
	_, ok := s.Nearest(100)
	require.False(ok)
}
