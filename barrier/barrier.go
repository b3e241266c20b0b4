// Package barrier implements the IdleTimeDynamicBarrier the Handshake
// methodology uses to steer dynamically-arriving updaters between a fast
// and a slow path around each size computation.
//
// It is adapted from the teacher's Roundabout
// (tef-crow/roundabout.go): the same "pack phase/flags/count into one
// atomic word, CAS it, spin for quiescence" idiom, generalized from
// Roundabout's fixed 32-slot conflict log into a barrier with no log at
// all — only two packed counters are needed to decide when every
// currently-active participant has observed a phase change.
package barrier

import (
	"runtime"
	"sync/atomic"
)

// ThreadPhase is the explicit, caller-held substitute for the paper's
// thread-local threadPhase field: one goroutine's record of which barrier
// phase it has last observed. Allocate one per participating goroutine
// alongside its registry.Handle and reuse it across every Register/Await/
// Leave call that goroutine makes on a given Barrier.
type ThreadPhase struct {
	phase atomic.Int64
}

// NewThreadPhase allocates a ThreadPhase for a goroutine that is about to
// call Barrier.Register.
func NewThreadPhase() *ThreadPhase { return &ThreadPhase{} }

// Barrier is an IdleTimeDynamicBarrier: a coordinator calls Trigger to move
// the system into the next phase and Register/Await let dynamically
// arriving and departing participants synchronize on phase boundaries
// without the coordinator knowing how many participants exist up front.
// Even phases permit the methodology's fast path; odd phases require the
// slow path.
type Barrier struct {
	sp atomic.Uint64 // packed sensePhase
	pw atomic.Uint64 // packed parityWaiting
}

// New constructs a Barrier at phase 0 (fast path permitted, inactive).
func New() *Barrier {
	return &Barrier{}
}

// Phase returns the current phase counter.
func (b *Barrier) Phase() int64 {
	return unpackSensePhase(b.sp.Load()).phase
}

// ThreadPhase returns the phase th last observed.
func (b *Barrier) ThreadPhase(th *ThreadPhase) int64 {
	return th.phase.Load()
}

// Register enrolls th as an active participant. If the barrier is
// currently active (a Trigger is in flight that th has not yet observed),
// Register blocks until th has caught up to the current phase.
func (b *Barrier) Register(th *ThreadPhase) {
	capturedParity := b.incrementActive()

	s := unpackSensePhase(b.sp.Load())
	th.phase.Store(s.phase)

	active := s.sense != (s.phase&1 != 0)
	if !active {
		return
	}

	// The active-increment and the sensePhase read above are not a
	// single atomic snapshot: a Trigger could land between them. If the
	// parity captured at increment time already disagrees with the
	// phase we just recorded, we raced a flip and our recorded phase is
	// one behind; treat ourselves as already caught up to it.
	if capturedParity != (th.phase.Load()&1 != 0) {
		th.phase.Add(1)
	}

	b.blockUntilCaughtUp(th)
}

// Leave withdraws th from the set of active participants.
func (b *Barrier) Leave(th *ThreadPhase) {
	for {
		old := b.pw.Load()
		cur := unpackParityWaiting(old)
		next := cur
		next.active--
		if b.pw.CompareAndSwap(old, next.pack()) {
			if next.waiting == next.active {
				b.tryDeactivate()
			}
			return
		}
	}
}

// Await blocks an already-registered th until it has observed the current
// phase. It is a no-op if th is already caught up.
func (b *Barrier) Await(th *ThreadPhase) {
	s := unpackSensePhase(b.sp.Load())
	if th.phase.Load() == s.phase {
		return
	}
	th.phase.Store(s.phase)
	b.blockUntilCaughtUp(th)
}

// Trigger advances the barrier to the next phase. Every currently active
// participant is required to observe phase >= the triggered phase the next
// time it calls Await or Register.
func (b *Barrier) Trigger() {
	var wasEmpty bool
	for {
		old := b.pw.Load()
		cur := unpackParityWaiting(old)
		next := parityWaiting{parity: !cur.parity, active: cur.active, waiting: 0}
		if b.pw.CompareAndSwap(old, next.pack()) {
			wasEmpty = cur.active == 0
			break
		}
	}

	for {
		old := b.sp.Load()
		s := unpackSensePhase(old)
		next := sensePhase{sense: s.sense, phase: s.phase + 1}
		if b.sp.CompareAndSwap(old, next.pack()) {
			break
		}
	}

	if wasEmpty {
		b.tryDeactivate()
	}
}

// incrementActive bumps the active participant count and returns the
// parity bit observed at the moment of increment, for Register's race
// check against a concurrent Trigger.
func (b *Barrier) incrementActive() bool {
	for {
		old := b.pw.Load()
		cur := unpackParityWaiting(old)
		next := cur
		next.active++
		if b.pw.CompareAndSwap(old, next.pack()) {
			return cur.parity
		}
	}
}

// blockUntilCaughtUp registers th as waiting and spins until sense matches
// th's recorded phase parity, deactivating the barrier itself the moment
// every active participant is accounted for in waiting.
func (b *Barrier) blockUntilCaughtUp(th *ThreadPhase) {
	for {
		old := b.pw.Load()
		cur := unpackParityWaiting(old)
		next := cur
		next.waiting++
		if b.pw.CompareAndSwap(old, next.pack()) {
			if next.waiting == next.active {
				b.tryDeactivate()
			}
			break
		}
	}

	want := th.phase.Load()&1 != 0
	for {
		s := unpackSensePhase(b.sp.Load())
		if s.sense == want {
			return
		}
		runtime.Gosched()
	}
}

// AwaitQuiescence blocks the caller — typically a Handshake size
// coordinator, not a registered participant — until the barrier has
// deactivated for its current phase, i.e. until every currently active
// participant has individually caught up via Register or Await. Unlike
// Await, the caller need not be registered and holds no ThreadPhase of its
// own: it is waiting on the barrier's global quiescence, not tracking a
// phase for later reuse.
func (b *Barrier) AwaitQuiescence() {
	for {
		s := unpackSensePhase(b.sp.Load())
		if s.sense == (s.phase&1 != 0) {
			return
		}
		runtime.Gosched()
	}
}

// tryDeactivate flips sense to match the current phase's parity, provided
// the (active, waiting) snapshot still shows every active participant
// waiting. It is always safe to call speculatively: if the quiescence
// condition no longer holds, or another goroutine already deactivated, it
// does nothing.
func (b *Barrier) tryDeactivate() {
	for {
		oldSP := b.sp.Load()
		s := unpackSensePhase(oldSP)
		want := s.phase&1 != 0
		if s.sense == want {
			return
		}
		p := unpackParityWaiting(b.pw.Load())
		if p.waiting != p.active {
			return
		}
		next := sensePhase{sense: want, phase: s.phase}
		if b.sp.CompareAndSwap(oldSP, next.pack()) {
			return
		}
	}
}
