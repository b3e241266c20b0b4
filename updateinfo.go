package sizecalc

import (
	"sync/atomic"

	"sizecalc/registry"
)

// UpdateInfo is an immutable pre-announcement of a counter bump. A
// slow-path update creates one, attaches it to the node/value-slot it is
// about to make globally visible, performs the linearizing CAS, and only
// then commits the counter bump the UpdateInfo announced. Any reader that
// witnesses the node before the bump commits must perform the bump itself
// ("help") before returning.
type UpdateInfo struct {
	tid     registry.ThreadID
	kind    Kind
	counter int64 // the counter value this update commits, once bumped
}

// NewUpdateInfo constructs an UpdateInfo announcing that thread tid's
// per-kind counter will become counter once this update's bump commits.
// counter is always one more than the counter's value observed at creation
// time (SPEC_FULL.md §4.7: "counter = metadata[tid]+1").
func NewUpdateInfo(tid registry.ThreadID, kind Kind, counter int64) *UpdateInfo {
	return &UpdateInfo{tid: tid, kind: kind, counter: counter}
}

// ThreadID returns the thread responsible for committing this UpdateInfo.
func (u *UpdateInfo) ThreadID() registry.ThreadID { return u.tid }

// Kind returns whether this is an insert or remove announcement.
func (u *UpdateInfo) Kind() Kind { return u.kind }

// Counter returns the counter value this UpdateInfo commits.
func (u *UpdateInfo) Counter() int64 { return u.counter }

// UpdateInfoHolder is an atomic slot a node or value carries so concurrent
// readers can observe — and help complete — a pending update. nil means no
// update is pending.
type UpdateInfoHolder struct {
	ptr atomic.Pointer[UpdateInfo]
}

// Store publishes info as the pending update, making it visible to any
// reader that subsequently loads this holder.
func (h *UpdateInfoHolder) Store(info *UpdateInfo) { h.ptr.Store(info) }

// Load returns the currently pending UpdateInfo, or nil if none.
func (h *UpdateInfoHolder) Load() *UpdateInfo { return h.ptr.Load() }

// Clear removes the pending UpdateInfo, called by the responsible thread
// once its bump has committed.
func (h *UpdateInfoHolder) Clear() { h.ptr.Store(nil) }
