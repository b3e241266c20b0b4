// Package lockcalc implements the Lock-based SizeCalculator (SPEC_FULL.md
// §4.5): updates take a shared lock and bump a plain per-thread counter;
// compute() takes the exclusive side of the same lock and sums every
// counter directly, with no snapshot or forwarding needed because
// exclusivity already rules out a concurrent bump. It is the only
// methodology here whose compute() actually honors context cancellation,
// since it is the only one that can genuinely block waiting for a lock.
package lockcalc

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"

	"sizecalc"
	"sizecalc/internal/metadata"
	"sizecalc/registry"
	"sizecalc/sizecalcerr"
)

// stampLock is a reader-writer lock built from the same CAS-and-spin idiom
// as barrier.Barrier (a writer flag and a reader count, kept as two separate
// atomics rather than one packed word), chosen over sync.RWMutex because
// Lock must be interruptible via a context — sync.RWMutex offers no way to
// abandon a blocked Lock call.
type stampLock struct {
	writer  atomic.Bool
	readers atomic.Int32
}

func (l *stampLock) RLock() {
	for {
		if l.writer.Load() {
			runtime.Gosched()
			continue
		}
		l.readers.Add(1)
		if l.writer.Load() {
			l.readers.Add(-1)
			continue
		}
		return
	}
}

func (l *stampLock) RUnlock() {
	l.readers.Add(-1)
}

// Lock blocks until the exclusive side is acquired or ctx is done. On
// cancellation it returns ctx.Err() and holds nothing.
func (l *stampLock) Lock(ctx context.Context) error {
	for !l.writer.CompareAndSwap(false, true) {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	for l.readers.Load() > 0 {
		if err := ctx.Err(); err != nil {
			l.writer.Store(false)
			return err
		}
		runtime.Gosched()
	}
	return nil
}

func (l *stampLock) Unlock() {
	l.writer.Store(false)
}

// Calculator is the Lock-based SizeCalculator. It implements
// sizecalc.Calculator.
type Calculator struct {
	reg      *registry.Registry
	counters *metadata.Counters
	lock     stampLock
}

// New constructs a Lock-based Calculator bound to reg.
func New(reg *registry.Registry, maxThreads int) *Calculator {
	return &Calculator{
		reg:      reg,
		counters: metadata.New(maxThreads),
	}
}

// CreateUpdateInfo pre-announces th's next counter value for kind. The
// announcement is advisory here — UpdateMetadata's bump is idempotent
// regardless of contention — kept only so callers can treat every
// methodology uniformly.
func (c *Calculator) CreateUpdateInfo(kind sizecalc.Kind, th *registry.Handle) *sizecalc.UpdateInfo {
	var cur int64
	if kind == sizecalc.Insert {
		cur = c.counters.Inserts(th.ID())
	} else {
		cur = c.counters.Removes(th.ID())
	}
	return sizecalc.NewUpdateInfo(th.ID(), kind, cur+1)
}

// UpdateMetadata bumps the counter info announces, holding the lock's
// shared side: any number of updaters run concurrently with each other,
// none with a Compute in progress.
func (c *Calculator) UpdateMetadata(kind sizecalc.Kind, info *sizecalc.UpdateInfo) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	id := info.ThreadID()
	target := info.Counter()
	if kind == sizecalc.Insert {
		c.counters.CompareAndBumpInsert(id, target-1)
	} else {
		c.counters.CompareAndBumpRemove(id, target-1)
	}
}

// FastUpdateMetadata is a no-op: the Lock methodology has no fast path,
// only the single shared/exclusive split above.
func (c *Calculator) FastUpdateMetadata(sizecalc.Kind, *registry.Handle) {}

// Compute takes the lock's exclusive side, sums every thread's net
// contribution, and releases. Exclusivity is the linearization point: no
// update can be mid-flight while the sum runs, so no snapshot or
// forwarding bookkeeping is needed. Returns ctx's error, wrapped, if
// cancelled before the lock is acquired. Concurrent callers do not share a
// result: each one acquires the exclusive side in turn and computes its own
// sum.
func (c *Calculator) Compute(ctx context.Context) (int64, error) {
	if err := c.lock.Lock(ctx); err != nil {
		return 0, errors.Wrap(sizecalcerr.ErrComputeCancelled, err.Error())
	}
	defer c.lock.Unlock()

	var total int64
	upper := c.reg.UpperBound()
	for id := int32(0); id < upper; id++ {
		tid := registry.ThreadID(id)
		total += c.counters.Net(tid)
	}
	return total, nil
}

// RegisterToBarrier is a no-op: the Lock methodology has no barrier.
func (c *Calculator) RegisterToBarrier(*registry.Handle) {}

// LeaveBarrier is a no-op: the Lock methodology has no barrier.
func (c *Calculator) LeaveBarrier(*registry.Handle) {}

// SizePhase always returns 1 (odd): the Lock methodology has no fast path,
// only the lock's two sides, so a SizeSet must always take the full
// CreateUpdateInfo/UpdateMetadata route.
func (c *Calculator) SizePhase() int64 { return 1 }

var _ sizecalc.Calculator = (*Calculator)(nil)
