// Package orderedmap provides RWMap, the one concrete SizeSet this module
// ships: an RW-mutex-guarded, key-ordered map whose insert/remove
// linearization points drive whichever sizecalc.Calculator it is
// constructed with. It is adapted from the teacher's LockedMap
// (tef-crow/map.go): the same "guard the map with one lock, do the
// bookkeeping inside the critical section" shape, with the teacher's
// Roundabout swapped out for a plain sync.RWMutex (RWMap's own structural
// concurrency is not this module's subject — the Calculator wired into it
// is) and a sorted backing slice standing in for the out-of-scope skip
// list/BST/chaining hash table the paper benchmarks against.
package orderedmap

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"sizecalc"
	"sizecalc/registry"
	"sizecalc/sizecalcerr"
)

// entry is one slot in the sorted backing slice. pending/kind carry the
// SizeSet integration contract's helping hook (spec.md §4.7): pending is
// non-nil from the moment a slow-path update's node becomes visible (insert)
// or is marked (remove) until the responsible thread's updateMetadata call
// commits, and kind says which counter that bump targets. tomb marks a node
// whose remove has linearized but whose grace window — the gap in which a
// concurrent reader may still witness and help it — hasn't closed yet.
type entry struct {
	key     sizecalc.Key
	value   sizecalc.Value
	pending *sizecalc.UpdateInfo
	kind    sizecalc.Kind
	tomb    bool
}

// RWMap is a key-ordered map guarded by a single reader-writer lock,
// parameterized over a sizecalc.Calculator at construction. It implements
// sizecalc.SizeSet.
type RWMap struct {
	mu    sync.RWMutex
	less  func(a, b sizecalc.Key) bool
	items []entry

	calc sizecalc.Calculator
}

// New constructs an RWMap ordered by less, wired to calc.
func New(less func(a, b sizecalc.Key) bool, calc sizecalc.Calculator) *RWMap {
	return &RWMap{less: less, calc: calc}
}

// rawSearch returns the index key occupies or would occupy if inserted, and
// whether a slot with that exact key is already present, tombstoned or not.
func (m *RWMap) rawSearch(key sizecalc.Key) (int, bool) {
	i := sort.Search(len(m.items), func(i int) bool {
		return !m.less(m.items[i].key, key)
	})
	if i < len(m.items) && !m.less(key, m.items[i].key) && !m.less(m.items[i].key, key) {
		return i, true
	}
	return i, false
}

// closeHelp performs the catch-up bump the integration contract requires of
// any reader that witnesses a pending update: calling updateMetadata is
// idempotent-by-CAS, so it is safe whether or not the responsible thread (or
// another helper) has already committed it. info nil means nothing to help.
func (m *RWMap) closeHelp(info *sizecalc.UpdateInfo, kind sizecalc.Kind) {
	if info != nil {
		m.calc.UpdateMetadata(kind, info)
	}
}

// clearPending nils an insert's pending field once its bump has committed,
// provided the slot still carries that exact UpdateInfo (it may have moved
// on to a later update, or been tombstoned, in the meantime).
func (m *RWMap) clearPending(key sizecalc.Key, info *sizecalc.UpdateInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.rawSearch(key)
	if ok && m.items[i].pending == info {
		m.items[i].pending = nil
	}
}

// reap physically splices a tombstoned slot out of the backing slice once
// its remove's bump has committed, provided it still carries that exact
// UpdateInfo.
func (m *RWMap) reap(key sizecalc.Key, info *sizecalc.UpdateInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.rawSearch(key)
	if !ok || m.items[i].pending != info {
		return
	}
	m.items = append(m.items[:i], m.items[i+1:]...)
}

// Contains reports whether key is present. Per the integration contract, a
// witnessed pending update is helped to completion before Contains returns.
func (m *RWMap) Contains(_ *registry.Handle, key sizecalc.Key) (bool, error) {
	if key == nil {
		return false, errors.WithStack(sizecalcerr.ErrNullKey)
	}
	m.mu.RLock()
	i, raw := m.rawSearch(key)
	found := raw && !m.items[i].tomb
	var help *sizecalc.UpdateInfo
	var kind sizecalc.Kind
	if raw && m.items[i].pending != nil {
		help, kind = m.items[i].pending, m.items[i].kind
	}
	m.mu.RUnlock()

	m.closeHelp(help, kind)
	return found, nil
}

// Insert adds key/value if key is absent. Entry per SPEC_FULL.md §4.7: it
// registers with the barrier (no-op outside Handshake), reads the phase to
// choose fast or slow path, performs the linearizing mutation under the
// write lock with the new node already carrying its pending UpdateInfo so a
// concurrent reader can witness and help it, commits the counter bump on
// the chosen path, clears the pending marker, then leaves the barrier.
func (m *RWMap) Insert(h *registry.Handle, key sizecalc.Key, value sizecalc.Value) (bool, error) {
	if key == nil {
		return false, errors.WithStack(sizecalcerr.ErrNullKey)
	}
	if value == nil {
		return false, errors.WithStack(sizecalcerr.ErrNullValue)
	}

	m.calc.RegisterToBarrier(h)
	defer m.calc.LeaveBarrier(h)

	slow := m.calc.SizePhase()&1 != 0
	var info *sizecalc.UpdateInfo
	if slow {
		info = m.calc.CreateUpdateInfo(sizecalc.Insert, h)
	}

	m.mu.Lock()
	i, raw := m.rawSearch(key)
	if raw && !m.items[i].tomb {
		present, presentKind := m.items[i].pending, m.items[i].kind
		m.mu.Unlock()
		m.closeHelp(present, presentKind)
		return false, nil
	}
	var help *sizecalc.UpdateInfo
	var helpKind sizecalc.Kind
	if raw {
		// The slot is a tombstone left by a remove whose bump may still be
		// in flight: help it before reusing the slot for this insert.
		help, helpKind = m.items[i].pending, m.items[i].kind
		m.items[i] = entry{key: key, value: value, pending: info, kind: sizecalc.Insert}
	} else {
		m.items = append(m.items, entry{})
		copy(m.items[i+1:], m.items[i:])
		m.items[i] = entry{key: key, value: value, pending: info, kind: sizecalc.Insert}
	}
	m.mu.Unlock()

	m.closeHelp(help, helpKind)

	if slow {
		m.calc.UpdateMetadata(sizecalc.Insert, info)
		m.clearPending(key, info)
	} else {
		m.calc.FastUpdateMetadata(sizecalc.Insert, h)
	}
	return true, nil
}

// Remove deletes key if present. The slow path's linearization point is the
// tombstone mark, not the physical splice: the node stays in the slice,
// carrying its pending UpdateInfo, through a grace window any concurrent
// reader may witness and help before the responsible thread's bump commits
// and the slot is reaped.
func (m *RWMap) Remove(h *registry.Handle, key sizecalc.Key) (bool, error) {
	if key == nil {
		return false, errors.WithStack(sizecalcerr.ErrNullKey)
	}

	m.calc.RegisterToBarrier(h)
	defer m.calc.LeaveBarrier(h)

	slow := m.calc.SizePhase()&1 != 0
	var info *sizecalc.UpdateInfo
	if slow {
		info = m.calc.CreateUpdateInfo(sizecalc.Remove, h)
	}

	m.mu.Lock()
	i, raw := m.rawSearch(key)
	if !raw || m.items[i].tomb {
		var help *sizecalc.UpdateInfo
		var helpKind sizecalc.Kind
		if raw && m.items[i].pending != nil {
			help, helpKind = m.items[i].pending, m.items[i].kind
		}
		m.mu.Unlock()
		m.closeHelp(help, helpKind)
		return false, nil
	}

	// A still-pending insert on the node being removed is helped before the
	// remove's own bump, so the pair never counts the remove first.
	prior, priorKind := m.items[i].pending, m.items[i].kind
	if !slow {
		m.items = append(m.items[:i], m.items[i+1:]...)
		m.mu.Unlock()
		m.closeHelp(prior, priorKind)
		m.calc.FastUpdateMetadata(sizecalc.Remove, h)
		return true, nil
	}

	m.items[i].tomb = true
	m.items[i].pending = info
	m.items[i].kind = sizecalc.Remove
	m.mu.Unlock()

	m.closeHelp(prior, priorKind)
	m.calc.UpdateMetadata(sizecalc.Remove, info)
	m.reap(key, info)
	return true, nil
}

// Size returns a linearizable count via the wired Calculator, saturating to
// math.MaxInt on overflow.
func (m *RWMap) Size() int {
	n, err := m.calc.Compute(context.Background())
	if err != nil {
		return 0
	}
	if n > math.MaxInt {
		return math.MaxInt
	}
	return int(n)
}

// Len returns the number of present (non-tombstoned) entries by direct
// iteration under the read lock, independent of the wired Calculator. It
// exists to check a Calculator's Size() against ground truth, not as a
// performant alternative to it — it is O(n) and takes the same lock every
// Insert/Remove briefly holds.
func (m *RWMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.items {
		if !e.tomb {
			n++
		}
	}
	return n
}

// SumOfKeys sums every present (non-tombstoned) key interpreted as an
// integer magnitude, for debug/checksum use. Non-integer keys contribute 0.
func (m *RWMap) SumOfKeys() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, e := range m.items {
		if e.tomb {
			continue
		}
		total += keyMagnitude(e.key)
	}
	return total
}

func keyMagnitude(key sizecalc.Key) int64 {
	switch v := key.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// Calculator returns the Calculator this map is wired to.
func (m *RWMap) Calculator() sizecalc.Calculator {
	return m.calc
}

var _ sizecalc.SizeSet = (*RWMap)(nil)
