// Package optimistic implements the Optimistic SizeCalculator (SPEC_FULL.md
// §4.6): compute() first tries a handful of cheap, unsynchronized reads —
// bracketing its counter scan with a per-thread activity parity check — and
// only falls back to the proven wait-free snapshot technique (shared with
// calculator/sp) once contention has defeated MaxTries consecutive optimistic
// attempts.
package optimistic

import (
	"context"
	"sync/atomic"

	"sizecalc"
	"sizecalc/internal/metadata"
	"sizecalc/internal/sizeinfo"
	"sizecalc/internal/snapshot"
	"sizecalc/registry"
)

// DefaultMaxTries is the number of optimistic read attempts Compute makes
// before falling back to the help protocol.
const DefaultMaxTries = 3

// activityPad rounds one atomic.Int64 up to its own cache line, the same
// false-sharing concern metadata.Counters documents for its counter pairs.
type activityPad [metadata.CacheLine - 8]byte

type activityCell struct {
	v atomic.Int64
	_ activityPad
}

// Calculator is the Optimistic SizeCalculator. It implements
// sizecalc.Calculator.
type Calculator struct {
	reg      *registry.Registry
	counters *metadata.Counters
	activity []activityCell // parity per thread: even = quiescent, odd = mid-update

	maxTries      int
	awaitingSizes atomic.Int32 // count of computations currently in the help protocol
	snapshots     snapshot.Registry
	info          sizeinfo.Holder
	onHelp        func() // observes an updater-triggered help, for metrics
}

// Option configures a Calculator at construction.
type Option func(*Calculator)

// WithMaxTries overrides DefaultMaxTries.
func WithMaxTries(n int) Option {
	return func(c *Calculator) { c.maxTries = n }
}

// WithHelpObserver registers fn to be called every time an updater drives
// the help protocol to completion on a waiting reader's behalf (spec.md
// §4.6). The embedding application wires this to metrics.Metrics.HelpTotal;
// the calculator itself carries no Prometheus dependency.
func WithHelpObserver(fn func()) Option {
	return func(c *Calculator) { c.onHelp = fn }
}

// New constructs an Optimistic Calculator bound to reg.
func New(reg *registry.Registry, maxThreads int, opts ...Option) *Calculator {
	c := &Calculator{
		reg:      reg,
		counters: metadata.New(maxThreads),
		activity: make([]activityCell, maxThreads),
		maxTries: DefaultMaxTries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
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

// UpdateMetadata commits info's announced bump, bracketed by an activity
// parity flip on either side: a compute() that samples this thread's
// activity counter as unchanged and even both before and after its scan
// knows no update straddled the scan window, without either side blocking
// the other. It also forwards the committed value to any snapshot
// currently running the help-protocol fallback.
func (c *Calculator) UpdateMetadata(kind sizecalc.Kind, info *sizecalc.UpdateInfo) {
	id := info.ThreadID()
	act := &c.activity[id].v
	act.Add(1) // -> odd: mid-update

	target := info.Counter()
	if kind == sizecalc.Insert {
		c.counters.CompareAndBumpInsert(id, target-1)
		c.snapshots.ForwardInsert(id, target)
	} else {
		c.counters.CompareAndBumpRemove(id, target-1)
		c.snapshots.ForwardRemove(id, target)
	}

	act.Add(1) // -> even: quiescent again

	// spec.md §4.6: an updater, after completing its own update, helps
	// along any computation already stuck in the pessimistic fallback
	// rather than leaving every waiting reader to rely solely on the
	// coordinator it already elected. helpSize's own coordinator election
	// makes this safe to call speculatively: if a coordinator is already
	// running, this call just waits for its result instead of competing.
	if c.awaitingSizes.Load() > 0 {
		c.helpSize()
		if c.onHelp != nil {
			c.onHelp()
		}
	}
}

// FastUpdateMetadata is a no-op: UpdateMetadata already serves as
// Optimistic's only update path.
func (c *Calculator) FastUpdateMetadata(sizecalc.Kind, *registry.Handle) {}

// Compute makes up to maxTries unsynchronized attempts, each reading every
// thread's activity parity, summing the counters, and re-reading activity;
// an attempt succeeds only if every sampled thread was even (quiescent) and
// unchanged across the scan. Once every attempt is defeated by ongoing
// contention, Compute falls back to helpSize, the wait-free snapshot
// protocol shared with calculator/sp.
func (c *Calculator) Compute(_ context.Context) (int64, error) {
	for attempt := 0; attempt < c.maxTries; attempt++ {
		if size, ok := c.tryOptimisticRead(); ok {
			return size, nil
		}
	}
	return c.helpSize(), nil
}

func (c *Calculator) tryOptimisticRead() (int64, bool) {
	upper := c.reg.UpperBound()
	before := make([]int64, upper)
	for id := int32(0); id < upper; id++ {
		before[id] = c.activity[id].v.Load()
		if before[id]&1 != 0 {
			return 0, false // mid-update; don't bother scanning
		}
	}

	var total int64
	for id := int32(0); id < upper; id++ {
		total += c.counters.Net(registry.ThreadID(id))
	}

	for id := int32(0); id < upper; id++ {
		after := c.activity[id].v.Load()
		if after != before[id] {
			return 0, false
		}
	}
	return total, true
}

// helpSize is the optimistic methodology's pessimistic fallback: it elects
// a single coordinator among concurrently defeated callers via the shared
// SizeInfo cell, so a burst of contention produces one exact computation
// instead of every caller retrying the fallback independently.
func (c *Calculator) helpSize() int64 {
	for {
		if cur := c.info.Load(); cur != nil {
			return cur.Wait()
		}
		fresh := sizeinfo.NewCell()
		if c.info.CompareAndSwap(nil, fresh) {
			c.awaitingSizes.Add(1)
			size := c.collectExact()
			c.awaitingSizes.Add(-1)
			fresh.Set(size)
			c.info.CompareAndSwap(fresh, nil)
			return size
		}
	}
}

func (c *Calculator) collectExact() int64 {
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

	return snap.Finalize(upper)
}

// AwaitingSizes returns the number of computations currently running the
// help-protocol fallback. It exists for tests and diagnostics that check
// the fallback drains back to zero once contention clears.
func (c *Calculator) AwaitingSizes() int32 {
	return c.awaitingSizes.Load()
}

// RegisterToBarrier is a no-op: Optimistic has no barrier, only the
// activity-parity check and its help-protocol fallback.
func (c *Calculator) RegisterToBarrier(*registry.Handle) {}

// LeaveBarrier is a no-op for the same reason.
func (c *Calculator) LeaveBarrier(*registry.Handle) {}

// SizePhase always returns 1 (odd): every update must go through
// UpdateMetadata so its activity-parity bump brackets the counter bump —
// FastUpdateMetadata would skip that signal entirely and break the
// optimistic read's contention check.
func (c *Calculator) SizePhase() int64 { return 1 }

var _ sizecalc.Calculator = (*Calculator)(nil)
