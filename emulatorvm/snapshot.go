// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"

	"github.com/ava-labs/emulatorvm/machine"
)

// MinSnapshots is the smallest allowed snapshot capacity: the anchor plus one
const MinSnapshots = 2

// SnapshotStore keeps machine states of a session indexed by cycle.
//
// The lowest stored cycle is the anchor and is never evicted, so every cycle
// stays reachable by replay. When the store is full the lowest non-anchor
// cycle is evicted. Stored machines are never mutated.
//
// SnapshotStore is not safe for concurrent use; the owning session serializes
// access.
type SnapshotStore struct {
	capacity  int
	snapshots *treemap.Map // uint64 -> machine.Machine
}

// NewSnapshotStore returns a store holding at most [capacity] snapshots,
// seeded with [anchor]
func NewSnapshotStore(anchor machine.Machine, capacity int) *SnapshotStore {
	if capacity < MinSnapshots {
		capacity = MinSnapshots
	}
	s := &SnapshotStore{
		capacity:  capacity,
		snapshots: treemap.NewWith(utils.UInt64Comparator),
	}
	s.Put(anchor)
	return s
}

// Put stores [m] at its cycle, replacing any snapshot already there. The store
// takes ownership of [m]; the caller must not mutate it afterwards.
func (s *SnapshotStore) Put(m machine.Machine) {
	s.snapshots.Put(m.Cycle(), m)
	for s.snapshots.Size() > s.capacity {
		it := s.snapshots.Iterator()
		it.Next() // anchor
		if !it.Next() {
			return
		}
		s.snapshots.Remove(it.Key())
	}
}

// Nearest returns the snapshot with the highest cycle not above [cycle]. The
// returned machine must not be mutated; callers Snapshot it first.
func (s *SnapshotStore) Nearest(cycle uint64) (machine.Machine, bool) {
	_, value := s.snapshots.Floor(cycle)
	if value == nil {
		return nil, false
	}
	return value.(machine.Machine), true
}

// Truncate drops every snapshot at a cycle greater than or equal to [cycle]
func (s *SnapshotStore) Truncate(cycle uint64) {
	for _, key := range s.snapshots.Keys() {
		if key.(uint64) >= cycle {
			s.snapshots.Remove(key)
		}
	}
}

// Cycles returns the stored cycles in ascending order
func (s *SnapshotStore) Cycles() []uint64 {
	keys := s.snapshots.Keys()
	cycles := make([]uint64, len(keys))
	for i, key := range keys {
		cycles[i] = key.(uint64)
	}
	return cycles
}

func (s *SnapshotStore) Len() int { return s.snapshots.Size() }

func (s *SnapshotStore) Capacity() int { return s.capacity }

// Clear releases every snapshot
func (s *SnapshotStore) Clear() { s.snapshots.Clear() }
