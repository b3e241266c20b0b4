// Package sp implements the wait-free SP SizeCalculator (SPEC_FULL.md
// §4.3): per-thread operation counters and a snapshot-based compute that
// never blocks an updater — a concurrent updater forwards its newly
// committed counter value into every in-flight snapshot instead of having
// the collector wait for it.
package sp

import (
	"context"

	"sizecalc"
	"sizecalc/internal/metadata"
	"sizecalc/internal/snapshot"
	"sizecalc/registry"
)

// Calculator is the SP SizeCalculator. It implements sizecalc.Calculator.
type Calculator struct {
	reg       *registry.Registry
	counters  *metadata.Counters
	snapshots snapshot.Registry
}

// New constructs an SP Calculator bound to reg. maxThreads must match
// reg's MAX_THREADS so the counter array can index every id reg can issue.
func New(reg *registry.Registry, maxThreads int) *Calculator {
	return &Calculator{
		reg:      reg,
		counters: metadata.New(maxThreads),
	}
}

// CreateUpdateInfo pre-announces th's next counter value for kind.
func (c *Calculator) CreateUpdateInfo(kind sizecalc.Kind, th *registry.Handle) *sizecalc.UpdateInfo {
	var cur int64
	if kind == sizecalc.Insert {
		cur = c.counters.Inserts(th.ID())
	} else {
		cur = c.counters.Removes(th.ID())
	}
	return sizecalc.NewUpdateInfo(th.ID(), kind, cur+1)
}

// UpdateMetadata commits info's announced bump (idempotent: any number of
// helpers may call this with the same info, but the underlying counter
// transitions from info.Counter()-1 to info.Counter() at most once) and
// forwards the committed value to every snapshot currently collecting.
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

// FastUpdateMetadata is a no-op: SP has no fast path.
func (c *Calculator) FastUpdateMetadata(sizecalc.Kind, *registry.Handle) {}

// Compute installs an active snapshot, scans every thread's counters
// (re-scanning the tail if the registry grows mid-scan), and finalizes.
// Deactivation is the linearization point.
func (c *Calculator) Compute(_ context.Context) (int64, error) {
	snap := snapshot.New(c.counters.Len())
	c.snapshots.Add(snap)
	defer c.snapshots.Remove(snap)
	snap.Activate(0)

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

	return snap.Finalize(upper), nil
}

// RegisterToBarrier is a no-op: SP has no barrier.
func (c *Calculator) RegisterToBarrier(*registry.Handle) {}

// LeaveBarrier is a no-op: SP has no barrier.
func (c *Calculator) LeaveBarrier(*registry.Handle) {}

// SizePhase always returns 1 (odd): SP has no fast path that skips the
// UpdateInfo/helping protocol, so a SizeSet must always take the full
// CreateUpdateInfo/UpdateMetadata route, never FastUpdateMetadata.
func (c *Calculator) SizePhase() int64 { return 1 }

var _ sizecalc.Calculator = (*Calculator)(nil)
