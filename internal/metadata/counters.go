// Package metadata holds the per-thread counter arrays the SP and
// Handshake-slow-path methodologies bump on every update linearization.
// Every hot cell is padded to its own cache line: false sharing between
// adjacent threads' counters would turn an otherwise wait-free update path
// into a cache-coherence bottleneck.
package metadata

import (
	"sync/atomic"

	"sizecalc/registry"
)

// CacheLine is the padding unit applied to every per-thread counter.
// PADDING = 8 longs (64 bytes) is the paper's default. It is a compile-time
// constant; there is no run-time option to widen it for parts with 128-byte
// lines.
const CacheLine = 64

// pad is enough zero bytes to round a pair of atomic.Int64 fields (16 bytes)
// up to a full cache line, minus the 16 bytes the fields themselves occupy.
type pad [CacheLine - 16]byte

// perThread holds one thread's (inserts, removes) pair, each a
// monotonically non-decreasing non-negative count; their difference is the
// thread's signed contribution to size.
type perThread struct {
	inserts atomic.Int64
	removes atomic.Int64
	_       pad
}

// Counters is a fixed-size array of per-thread counter pairs, one per
// thread id in [0, MaxThreads). It is allocated once at construction and
// never reallocated or resized: thread ids are dense and bounded by
// registry.Registry's MAX_THREADS.
type Counters struct {
	slots []perThread
}

// New allocates a Counters array sized for maxThreads thread ids.
func New(maxThreads int) *Counters {
	return &Counters{slots: make([]perThread, maxThreads)}
}

// Bump adds kind.Magnitude() to thread id's running counters: it
// increments inserts for Insert, removes for Remove. Both counters are
// non-negative by construction (only ever incremented), so their
// difference — not either absolute value — is the quantity that matters.
func (c *Counters) Bump(id registry.ThreadID, kind int64) {
	if kind > 0 {
		c.slots[id].inserts.Add(1)
	} else {
		c.slots[id].removes.Add(1)
	}
}

// Inserts returns thread id's current insert count.
func (c *Counters) Inserts(id registry.ThreadID) int64 { return c.slots[id].inserts.Load() }

// Removes returns thread id's current remove count.
func (c *Counters) Removes(id registry.ThreadID) int64 { return c.slots[id].removes.Load() }

// Net returns Inserts(id) - Removes(id), thread id's signed contribution.
func (c *Counters) Net(id registry.ThreadID) int64 {
	return c.slots[id].inserts.Load() - c.slots[id].removes.Load()
}

// Len returns the number of thread slots this array was constructed with.
func (c *Counters) Len() int { return len(c.slots) }

// CompareAndBumpInsert conditionally transitions thread id's insert counter
// from from to from+1, the at-most-once helper bump UpdateInfo requires:
// any number of helpers may race to apply the same pre-announced counter
// value, and exactly one CAS succeeds.
func (c *Counters) CompareAndBumpInsert(id registry.ThreadID, from int64) bool {
	return c.slots[id].inserts.CompareAndSwap(from, from+1)
}

// CompareAndBumpRemove is CompareAndBumpInsert for the remove counter.
func (c *Counters) CompareAndBumpRemove(id registry.ThreadID, from int64) bool {
	return c.slots[id].removes.CompareAndSwap(from, from+1)
}

// fastCell holds one thread's fast-path running total, padded to its own
// cache line for the same reason perThread is: the fast path exists
// specifically to avoid cache-coherence traffic on the hot update path, and
// a shared line across threads' cells would reintroduce exactly that.
type fastCell struct {
	total atomic.Int64
	_     [CacheLine - 8]byte
}

// FastCounters is a per-thread array of unconditional running totals, used
// by Handshake's fast path. Unlike Counters there is no insert/remove split
// and no CAS: FastUpdateMetadata only ever touches the calling thread's own
// cell, so a plain Add is both correct and genuinely wait-free.
type FastCounters struct {
	slots []fastCell
}

// NewFast allocates a FastCounters array sized for maxThreads thread ids.
func NewFast(maxThreads int) *FastCounters {
	return &FastCounters{slots: make([]fastCell, maxThreads)}
}

// Add adds delta to thread id's running total.
func (f *FastCounters) Add(id registry.ThreadID, delta int64) {
	f.slots[id].total.Add(delta)
}

// Net returns thread id's current running total.
func (f *FastCounters) Net(id registry.ThreadID) int64 {
	return f.slots[id].total.Load()
}

// Sum returns the sum of every thread's running total across [0, upper).
func (f *FastCounters) Sum(upper int32) int64 {
	var total int64
	for id := int32(0); id < upper; id++ {
		total += f.Net(registry.ThreadID(id))
	}
	return total
}

// Len returns the number of thread slots this array was constructed with.
func (f *FastCounters) Len() int { return len(f.slots) }
