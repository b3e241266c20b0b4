// Package snapshot implements the per-size, per-thread, per-kind counter
// collection the Handshake methodology uses during its slow phase. It is
// the same "forward, don't block the collector" idea as the SP
// methodology's wait-free collection (calculator/sp), reused here as the
// collection primitive Handshake's coordinator runs once all updaters have
// been steered onto the slow path.
package snapshot

import (
	"math"
	"sync"
	"sync/atomic"

	"sizecalc/registry"
)

// NotObserved is the ⊥ sentinel: no value has been scanned or forwarded
// for this thread/kind yet.
const NotObserved = math.MinInt64

type cell struct {
	inserts atomic.Int64
	removes atomic.Int64
}

// Snapshot collects a consistent view of every thread's per-kind counters
// for one size computation. A fresh Snapshot is allocated per compute
// attempt; Finalize, which deactivates it, is the computation's
// linearization point.
type Snapshot struct {
	cells      []cell
	collecting atomic.Bool
	size       atomic.Int64
	fastSize   atomic.Int64
}

// New allocates a Snapshot sized for maxThreads thread ids, with every
// cell initialized to NotObserved.
func New(maxThreads int) *Snapshot {
	s := &Snapshot{cells: make([]cell, maxThreads)}
	for i := range s.cells {
		s.cells[i].inserts.Store(NotObserved)
		s.cells[i].removes.Store(NotObserved)
	}
	return s
}

// Activate marks the snapshot as collecting, recording the pre-aggregated
// fast-path contribution accumulated since the last size.
func (s *Snapshot) Activate(fastSize int64) {
	s.fastSize.Store(fastSize)
	s.collecting.Store(true)
}

// Collecting reports whether this snapshot is still accepting forwarded
// values. Updaters consult this before bothering to forward.
func (s *Snapshot) Collecting() bool {
	return s.collecting.Load()
}

// ObserveInsert records the collector's own scan of thread id's insert
// counter.
func (s *Snapshot) ObserveInsert(id registry.ThreadID, v int64) {
	forwardMax(&s.cells[id].inserts, v)
}

// ObserveRemove records the collector's own scan of thread id's remove
// counter.
func (s *Snapshot) ObserveRemove(id registry.ThreadID, v int64) {
	forwardMax(&s.cells[id].removes, v)
}

// ForwardInsert is called by an updater whose insert bump linearized while
// this snapshot was collecting, publishing its new counter value so the
// collector never needs to wait for or rescan this thread.
func (s *Snapshot) ForwardInsert(id registry.ThreadID, v int64) {
	forwardMax(&s.cells[id].inserts, v)
}

// ForwardRemove is ForwardInsert for the remove counter.
func (s *Snapshot) ForwardRemove(id registry.ThreadID, v int64) {
	forwardMax(&s.cells[id].removes, v)
}

// forwardMax keeps the larger of the cell's current value and v, treating
// NotObserved as -infinity. Counters only increase, so whichever party
// (collector scan or updater forward) observed the larger value observed
// it more recently; taking the max is always safe and never loses an
// update that happened inside the collection window.
func forwardMax(cell *atomic.Int64, v int64) {
	for {
		old := cell.Load()
		if old != NotObserved && old >= v {
			return
		}
		if cell.CompareAndSwap(old, v) {
			return
		}
	}
}

// Finalize sums every observed thread's net contribution (inserts -
// removes, treating a still-NotObserved cell as 0) plus fastSize, stores
// the result, and deactivates the snapshot — the size computation's
// linearization point.
func (s *Snapshot) Finalize(upperBound int32) int64 {
	var total int64 = s.fastSize.Load()
	for i := int32(0); i < upperBound; i++ {
		c := &s.cells[i]
		ins := c.inserts.Load()
		rem := c.removes.Load()
		if ins == NotObserved {
			ins = 0
		}
		if rem == NotObserved {
			rem = 0
		}
		total += ins - rem
	}
	s.size.Store(total)
	s.collecting.Store(false)
	return total
}

// Size returns the finalized size. Valid only after Finalize.
func (s *Snapshot) Size() int64 {
	return s.size.Load()
}

// Registry tracks every Snapshot currently collecting, so a single
// updater bump can forward its new counter value to every concurrent size
// computation in flight — not just the most recently started one. This is
// what keeps the update path wait-free even when multiple compute() calls
// overlap: an updater does a bounded amount of extra work (one forward per
// concurrently active computation), never waits on one.
type Registry struct {
	active sync.Map // *Snapshot -> struct{}
}

// Add enrolls s as actively collecting.
func (r *Registry) Add(s *Snapshot) {
	r.active.Store(s, struct{}{})
}

// Remove withdraws s once its computation has finalized.
func (r *Registry) Remove(s *Snapshot) {
	r.active.Delete(s)
}

// ForwardInsert forwards an insert bump to every still-collecting
// snapshot currently registered.
func (r *Registry) ForwardInsert(id registry.ThreadID, v int64) {
	r.active.Range(func(k, _ any) bool {
		if s := k.(*Snapshot); s.Collecting() {
			s.ForwardInsert(id, v)
		}
		return true
	})
}

// ForwardRemove is ForwardInsert for the remove counter.
func (r *Registry) ForwardRemove(id registry.ThreadID, v int64) {
	r.active.Range(func(k, _ any) bool {
		if s := k.(*Snapshot); s.Collecting() {
			s.ForwardRemove(id, v)
		}
		return true
	})
}
