// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package emulatorvm

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	log "github.com/inconshreveable/log15"
	"golang.org/x/sync/semaphore"

	"github.com/ava-labs/emulatorvm/machine"
	"github.com/ava-labs/emulatorvm/merkle"
)

// MemoryPatch is an external write applied to the machine when it reaches
// [Cycle]
type MemoryPatch struct {
	Cycle   uint64
	Address uint64
	Data    []byte
}

// Session is a single emulated machine with its snapshot cache and patch
// journal.
//
// Every operation holds the session lock for its whole duration. Operations
// that change the state work on a copy and swap it in only once they succeed,
// so a failed or cancelled operation leaves the session as it found it.
//
// The machine at cycle c is the machine built from the spec, run to c, with
// every patch at a cycle not above c applied in journal order.
type Session struct {
	id string

	lock   *semaphore.Weighted
	closed uint32
	cycle  uint64 // mirrors machine.Cycle() for lock-free reads

	machine   machine.Machine
	snapshots *SnapshotStore
	patches   []MemoryPatch

	metrics *metrics
	log     log.Logger
}

func newSession(id string, m machine.Machine, maxSnapshots int, metrics *metrics, logger log.Logger) *Session {
	return &Session{
		id:        id,
		lock:      semaphore.NewWeighted(1),
		machine:   m,
		snapshots: NewSnapshotStore(m.Snapshot(), maxSnapshots),
		metrics:   metrics,
		log:       logger.New("session", id),
	}
}

func (s *Session) ID() string { return s.id }

// CurrentCycle returns the cycle the live machine is at
func (s *Session) CurrentCycle() uint64 { return atomic.LoadUint64(&s.cycle) }

// Run moves the session through [checkpoints] and returns the state hash at
// each of them. On success the session is at the last checkpoint.
func (s *Session) Run(ctx context.Context, checkpoints []uint64) ([]merkle.Hash, error) {
	if len(checkpoints) == 0 {
		return nil, fmt.Errorf("%w: no checkpoints", ErrMalformedRequest)
	}
	for i := 1; i < len(checkpoints); i++ {
		if checkpoints[i] <= checkpoints[i-1] {
			return nil, fmt.Errorf("%w: checkpoint %d (%d) is not above checkpoint %d (%d)",
				ErrInvalidCycleOrder, i, checkpoints[i], i-1, checkpoints[i-1])
		}
	}
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	m, err := s.seek(ctx, checkpoints[0], true)
	if err != nil {
		return nil, err
	}
	hashes := make([]merkle.Hash, 0, len(checkpoints))
	pending := make([]machine.Machine, 0, len(checkpoints))
	for i, cycle := range checkpoints {
		if i > 0 {
			if err := s.advance(ctx, m, cycle); err != nil {
				return nil, err
			}
		}
		hashes = append(hashes, m.RootHash())
		pending = append(pending, m.Snapshot())
		if len(pending) > s.snapshots.Capacity() {
			pending = pending[1:]
		}
	}

	for _, snapshot := range pending {
		s.snapshots.Put(snapshot)
	}
	s.commit(m)
	s.log.Debug("run", "checkpoints", len(checkpoints), "cycle", m.Cycle())
	return hashes, nil
}

// Step executes the single step starting at [cycle] and returns its access
// log. On success the session is at cycle+1.
func (s *Session) Step(ctx context.Context, cycle uint64) (machine.StepLog, error) {
	if cycle == math.MaxUint64 {
		return machine.StepLog{}, fmt.Errorf("%w: cannot step past cycle %d", ErrInvalidCycleOrder, cycle)
	}
	if err := s.acquire(ctx); err != nil {
		return machine.StepLog{}, err
	}
	defer s.release()

	m, err := s.seek(ctx, cycle, true)
	if err != nil {
		return machine.StepLog{}, err
	}
	before := m.Snapshot()
	stepLog, err := m.Step()
	if err != nil {
		return machine.StepLog{}, err
	}
	if err := s.applyPatches(ctx, m, cycle, cycle+1); err != nil {
		return machine.StepLog{}, err
	}

	s.snapshots.Put(before)
	s.commit(m)
	return stepLog, nil
}

// ReadMemory returns [length] bytes at [address] in the machine at [cycle].
// The session cycle is left unchanged.
func (s *Session) ReadMemory(ctx context.Context, cycle, address, length uint64) ([]byte, error) {
	if err := checkRange(address, length); err != nil {
		return nil, err
	}
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	m, err := s.seek(ctx, cycle, false)
	if err != nil {
		return nil, err
	}
	data, err := m.ReadMemory(address, length)
	if err != nil {
		return nil, err
	}
	s.keep(m)
	return data, nil
}

// GetProof returns the proof of the 2^[log2Size] bytes at [address] in the
// machine at [cycle]. The session cycle is left unchanged.
func (s *Session) GetProof(ctx context.Context, cycle, address uint64, log2Size uint32) (merkle.Proof, error) {
	if err := merkle.CheckAlignment(address, log2Size); err != nil {
		return merkle.Proof{}, err
	}
	if err := s.acquire(ctx); err != nil {
		return merkle.Proof{}, err
	}
	defer s.release()

	m, err := s.seek(ctx, cycle, false)
	if err != nil {
		return merkle.Proof{}, err
	}
	proof, err := m.GetProof(address, log2Size)
	if err != nil {
		return merkle.Proof{}, err
	}
	s.keep(m)
	return proof, nil
}

// WriteMemory writes [data] at [address] in the machine at [cycle] and
// records the write in the patch journal. Snapshots at or above [cycle] are
// dropped and the session is left at [cycle]. Returns the new state hash.
func (s *Session) WriteMemory(ctx context.Context, cycle, address uint64, data []byte) (merkle.Hash, error) {
	if err := checkRange(address, uint64(len(data))); err != nil {
		return merkle.Hash{}, err
	}
	if err := s.acquire(ctx); err != nil {
		return merkle.Hash{}, err
	}
	defer s.release()

	m, err := s.seek(ctx, cycle, true)
	if err != nil {
		return merkle.Hash{}, err
	}
	if err := m.WriteMemory(address, data); err != nil {
		return merkle.Hash{}, err
	}

	patch := MemoryPatch{
		Cycle:   cycle,
		Address: address,
		Data:    append([]byte(nil), data...),
	}
	i := sort.Search(len(s.patches), func(i int) bool { return s.patches[i].Cycle > cycle })
	s.patches = append(s.patches, MemoryPatch{})
	copy(s.patches[i+1:], s.patches[i:])
	s.patches[i] = patch

	s.snapshots.Truncate(cycle)
	s.snapshots.Put(m.Snapshot())
	s.commit(m)
	s.log.Debug("memory patched", "cycle", cycle, "address", address, "length", len(data))
	return m.RootHash(), nil
}

// Patches returns a copy of the patch journal
func (s *Session) Patches(ctx context.Context) ([]MemoryPatch, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	patches := make([]MemoryPatch, len(s.patches))
	copy(patches, s.patches)
	return patches, nil
}

// Close releases the machine and its snapshots once the operation in flight,
// if any, returns. Operations issued after Close fail with
// ErrSessionNotFound.
func (s *Session) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		// the current holder may still be running; free the state after it
		go func() {
			_ = s.lock.Acquire(context.Background(), 1)
			s.free()
		}()
		return nil
	}
	s.free()
	return nil
}

// free drops the session state. The caller holds the lock.
func (s *Session) free() {
	s.machine = nil
	s.snapshots.Clear()
	s.patches = nil
	s.lock.Release(1)
	s.log.Debug("session closed")
}

func (s *Session) acquire(ctx context.Context) error {
	if atomic.LoadUint32(&s.closed) == 1 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	if atomic.LoadUint32(&s.closed) == 1 {
		s.lock.Release(1)
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}
	return nil
}

func (s *Session) release() { s.lock.Release(1) }

func (s *Session) commit(m machine.Machine) {
	s.machine = m
	atomic.StoreUint64(&s.cycle, m.Cycle())
}

// keep caches [m] as a snapshot unless it is the live machine
func (s *Session) keep(m machine.Machine) {
	if m != s.machine {
		s.snapshots.Put(m)
	}
}

// seek returns the machine at [cycle], replaying from the live machine or the
// nearest snapshot. Unless [owned] is set the live machine itself may be
// returned and must not be mutated; otherwise the result is a private copy.
func (s *Session) seek(ctx context.Context, cycle uint64, owned bool) (machine.Machine, error) {
	if !owned && s.machine.Cycle() == cycle {
		return s.machine, nil
	}
	var base machine.Machine
	if s.machine.Cycle() <= cycle {
		base = s.machine
	}
	if snapshot, ok := s.snapshots.Nearest(cycle); ok && (base == nil || snapshot.Cycle() > base.Cycle()) {
		base = snapshot
	}
	if base == nil {
		// the anchor is never evicted, so this only happens after Close
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}
	if !owned && base.Cycle() == cycle {
		return base, nil
	}

	m := base.Snapshot()
	replayed := cycle - m.Cycle()
	if err := s.advance(ctx, m, cycle); err != nil {
		return nil, err
	}
	s.metrics.replayedCycles.Add(float64(replayed))
	return m, nil
}

// advance runs [m] to [cycle], applying the journal on the way
func (s *Session) advance(ctx context.Context, m machine.Machine, cycle uint64) error {
	if err := s.applyPatches(ctx, m, m.Cycle(), cycle); err != nil {
		return err
	}
	return m.Run(ctx, cycle)
}

// applyPatches applies the patches with a cycle in ([from], [to]], running [m]
// up to the cycle of each one first
func (s *Session) applyPatches(ctx context.Context, m machine.Machine, from, to uint64) error {
	for _, p := range s.patches {
		if p.Cycle <= from {
			continue
		}
		if p.Cycle > to {
			break
		}
		if err := m.Run(ctx, p.Cycle); err != nil {
			return err
		}
		if err := m.WriteMemory(p.Address, p.Data); err != nil {
			return fmt.Errorf("replaying patch at cycle %d: %w", p.Cycle, err)
		}
	}
	return nil
}

// checkRange validates the bounds of a memory read or write
func checkRange(address, length uint64) error {
	if address%merkle.WordLength != 0 {
		return fmt.Errorf("%w: address %#x is not word aligned", ErrMemoryAlignment, address)
	}
	if length == 0 || length%merkle.WordLength != 0 {
		return fmt.Errorf("%w: length %d is not a positive multiple of %d", ErrMemoryAlignment, length, merkle.WordLength)
	}
	if length > MaxReadLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrMemoryAlignment, length, MaxReadLength)
	}
	return nil
}
