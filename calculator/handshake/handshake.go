// Package handshake implements the Handshake SizeCalculator (SPEC_FULL.md
// §4.4): a dynamic idle-time barrier steers updaters onto an SP-style slow
// path only while a size is collecting, letting the common case — no size
// in flight — run a single unconditional bump to the updater's own
// per-thread counter, with no UpdateInfo overhead and no cache line shared
// with any other thread's fast-path bump.
package handshake

import (
	"context"
	"sync/atomic"

	"sizecalc"
	"sizecalc/barrier"
	"sizecalc/internal/metadata"
	"sizecalc/internal/sizeinfo"
	"sizecalc/internal/snapshot"
	"sizecalc/registry"
)

// Calculator is the Handshake SizeCalculator. It implements
// sizecalc.Calculator.
type Calculator struct {
	reg       *registry.Registry
	barrier   *barrier.Barrier
	counters  *metadata.Counters     // slow-path per-thread, per-kind counters
	fastTotal *metadata.FastCounters // fast-path per-thread running totals
	phases    []atomic.Pointer[barrier.ThreadPhase]
	snapshots snapshot.Registry
	info      sizeinfo.Holder // serializes concurrent Compute callers
}

// New constructs a Handshake Calculator bound to reg.
func New(reg *registry.Registry, maxThreads int) *Calculator {
	return &Calculator{
		reg:       reg,
		barrier:   barrier.New(),
		counters:  metadata.New(maxThreads),
		fastTotal: metadata.NewFast(maxThreads),
		phases:    make([]atomic.Pointer[barrier.ThreadPhase], maxThreads),
	}
}

func (c *Calculator) threadPhaseFor(th *registry.Handle) *barrier.ThreadPhase {
	slot := &c.phases[th.ID()]
	if tp := slot.Load(); tp != nil {
		return tp
	}
	fresh := barrier.NewThreadPhase()
	if slot.CompareAndSwap(nil, fresh) {
		return fresh
	}
	return slot.Load()
}

// RegisterToBarrier enrolls th as an active updater, blocking if a size is
// currently steering updaters onto the slow path.
func (c *Calculator) RegisterToBarrier(th *registry.Handle) {
	c.barrier.Register(c.threadPhaseFor(th))
}

// LeaveBarrier withdraws th once its update has linearized.
func (c *Calculator) LeaveBarrier(th *registry.Handle) {
	c.barrier.Leave(c.threadPhaseFor(th))
}

// SizePhase returns the barrier's current phase: even permits the fast
// path, odd requires the slow path. An updater calls this immediately
// after RegisterToBarrier returns, by which point it is caught up to the
// phase it should act under for this operation.
func (c *Calculator) SizePhase() int64 {
	return c.barrier.Phase()
}

// CreateUpdateInfo pre-announces th's next slow-path counter value for
// kind. Only meaningful on the slow path (SizePhase odd); the fast path
// calls FastUpdateMetadata instead and never needs an UpdateInfo.
func (c *Calculator) CreateUpdateInfo(kind sizecalc.Kind, th *registry.Handle) *sizecalc.UpdateInfo {
	var cur int64
	if kind == sizecalc.Insert {
		cur = c.counters.Inserts(th.ID())
	} else {
		cur = c.counters.Removes(th.ID())
	}
	return sizecalc.NewUpdateInfo(th.ID(), kind, cur+1)
}

// UpdateMetadata commits a slow-path bump and forwards it to any snapshot
// currently collecting.
func (c *Calculator) UpdateMetadata(kind sizecalc.Kind, info *sizecalc.UpdateInfo) {
	id := info.ThreadID()
	target := info.Counter()
	if kind == sizecalc.Insert {
		c.counters.CompareAndBumpInsert(id, target-1)
		c.snapshots.ForwardInsert(id, target)
	} else {
		c.counters.CompareAndBumpRemove(id, target-1)
		c.snapshots.ForwardRemove(id, target)
	}
}

// FastUpdateMetadata unconditionally bumps th's own fast-path cell. No
// UpdateInfo, no CAS race to resolve: every thread only ever touches its
// own cell, and the fast path is only safe to use when SizePhase is even,
// i.e. when no size is collecting and so nothing will ever try to forward
// or observe this bump mid-flight.
func (c *Calculator) FastUpdateMetadata(kind sizecalc.Kind, th *registry.Handle) {
	c.fastTotal.Add(th.ID(), kind.Magnitude())
}

// Compute serializes concurrent callers through a shared SizeInfo cell (the
// same pattern calculator/optimistic uses for its fallback): the
// first caller becomes the coordinator and runs the actual handshake
// collection; every other concurrent caller waits for its result instead
// of running a redundant, and individually ambiguous, second barrier cycle.
func (c *Calculator) Compute(_ context.Context) (int64, error) {
	for {
		if cur := c.info.Load(); cur != nil {
			return cur.Wait(), nil
		}
		fresh := sizeinfo.NewCell()
		if c.info.CompareAndSwap(nil, fresh) {
			size := c.collect()
			fresh.Set(size)
			c.info.CompareAndSwap(fresh, nil)
			return size, nil
		}
	}
}

// collect runs one full handshake cycle: trigger the slow phase, wait for
// every active updater to observe it, take an SP-style snapshot of the
// slow-path counters plus the fast-path pre-aggregate, then trigger the
// return to the fast phase. Snapshot deactivation — after the second
// trigger returns — is the computation's linearization point.
func (c *Calculator) collect() int64 {
	c.barrier.Trigger()
	c.barrier.AwaitQuiescence()

	snap := snapshot.New(c.counters.Len())
	c.snapshots.Add(snap)
	snap.Activate(c.fastTotal.Sum(c.reg.UpperBound()))

	var scanned int32
	upper := c.reg.UpperBound()
	for {
		for id := scanned; id < upper; id++ {
			tid := registry.ThreadID(id)
			snap.ObserveInsert(tid, c.counters.Inserts(tid))
			snap.ObserveRemove(tid, c.counters.Removes(tid))
		}
		scanned = upper
		next := c.reg.UpperBound()
		if next == upper {
			break
		}
		upper = next
	}

	c.barrier.Trigger()

	size := snap.Finalize(upper)
	c.snapshots.Remove(snap)
	return size
}

var _ sizecalc.Calculator = (*Calculator)(nil)
