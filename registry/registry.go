// Package registry assigns each participating goroutine a small dense
// non-negative identifier, reclaims identifiers on departure, and exposes
// the current high-water mark of identifiers so counter arrays can be
// scanned. It is the explicit, passed-by-value substitute for the paper's
// ambient per-thread identity: Go has no thread-locals, so every caller that
// wants to participate in a SizeSet must Register once and thread the
// returned *Handle through every subsequent call (see SPEC_FULL.md §9,
// "Global process state").
package registry

import (
	"container/heap"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"sizecalc/internal/idpool"
	"sizecalc/sizecalcerr"
)

// ThreadID is a small non-negative integer in [0, MAX_THREADS).
type ThreadID int32

// DefaultMaxThreads is MAX_THREADS when a Registry is constructed without
// WithMaxThreads. The reference paper uses 128.
const DefaultMaxThreads = 128

// Registry is process-wide state: one Registry is normally shared by every
// SizeSet and SizeCalculator in a process, exactly as the paper's
// ThreadRegistry is. It is safe for concurrent use.
type Registry struct {
	maxThreads int32
	nextID     atomic.Int32
	mu         sync.Mutex
	free       idpool.Pool
	log        *zap.Logger
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithMaxThreads overrides DefaultMaxThreads.
func WithMaxThreads(n int) Option {
	return func(r *Registry) { r.maxThreads = int32(n) }
}

// WithLogger attaches a zap.Logger for non-fatal diagnostics (double
// deregister of an already-released handle, etc). Defaults to a no-op
// logger: the library is silent unless asked.
func WithLogger(log *zap.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New constructs a Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		maxThreads: DefaultMaxThreads,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	heap.Init(&r.free)
	return r
}

// Handle is the caller-held token returned by Register. It carries the
// assigned ThreadID and must be reused for the lifetime of the goroutine's
// participation; it must not be shared across goroutines.
type Handle struct {
	r          *Registry
	id         ThreadID
	registered atomic.Bool
}

// ID returns the identifier assigned to this handle.
func (h *Handle) ID() ThreadID { return h.id }

// Register assigns a dense identifier in [0, MAX_THREADS), preferring the
// lowest free id released by a prior Deregister. It returns
// sizecalcerr.ErrThreadCapExceeded if nextId has reached MAX_THREADS and no
// ids are free.
func (r *Registry) Register() (*Handle, error) {
	r.mu.Lock()
	if r.free.Len() > 0 {
		id := heap.Pop(&r.free).(int32)
		r.mu.Unlock()
		h := &Handle{r: r, id: ThreadID(id)}
		h.registered.Store(true)
		return h, nil
	}
	r.mu.Unlock()

	for {
		cur := r.nextID.Load()
		if cur >= r.maxThreads {
			return nil, errors.WithStack(sizecalcerr.ErrThreadCapExceeded)
		}
		if r.nextID.CompareAndSwap(cur, cur+1) {
			h := &Handle{r: r, id: ThreadID(cur)}
			h.registered.Store(true)
			return h, nil
		}
	}
}

// Register re-registers a handle that has been Deregistered, or fails with
// sizecalcerr.ErrDoubleRegister if the handle is already live. Most callers
// only ever call Registry.Register once per goroutine; this method exists
// for the (documented, §7) programmer-error case of calling it twice on the
// same handle without an intervening Deregister.
func (h *Handle) Register() error {
	if !h.registered.CompareAndSwap(false, true) {
		return errors.WithStack(sizecalcerr.ErrDoubleRegister)
	}
	return nil
}

// Deregister returns the handle's id to the free pool. It is idempotent: a
// second call on an already-deregistered handle logs and returns rather
// than panicking or erroring, matching the contract that metadata counters
// for a released id remain readable as if the thread still held its
// contribution.
func (h *Handle) Deregister() {
	if !h.registered.CompareAndSwap(true, false) {
		h.r.log.Info("deregister of already-released handle", zap.Int32("id", int32(h.id)))
		return
	}
	h.r.mu.Lock()
	heap.Push(&h.r.free, int32(h.id))
	h.r.mu.Unlock()
}

// UpperBound returns nextId, the least upper bound on every identifier ever
// issued. A scanner walking [0, UpperBound()) should follow the "re-scan on
// growth" pattern: record prev := UpperBound() before scanning, and if
// UpperBound() != prev afterwards, scan the new tail and repeat.
func (r *Registry) UpperBound() int32 {
	return r.nextID.Load()
}
