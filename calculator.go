package sizecalc

import (
	"context"

	"sizecalc/registry"
)

// Calculator is the methodology-agnostic contract an underlying SizeSet
// drives at every update's linearization point, and that a Size() caller
// drives via Compute. Each of the four methodologies under calculator/
// implements it: calculator/sp, calculator/handshake, calculator/lockcalc,
// calculator/optimistic.
//
// Methods that only matter to the Handshake methodology (RegisterToBarrier,
// LeaveBarrier, SizePhase) are no-ops on the other three: a SizeSet written
// against this interface works unmodified with any of the four.
type Calculator interface {
	// CreateUpdateInfo pre-announces the counter bump an update of kind
	// kind, performed by th, will commit once it linearizes.
	CreateUpdateInfo(kind Kind, th *registry.Handle) *UpdateInfo

	// UpdateMetadata commits the counter bump info announced. It is
	// helper-safe: any number of goroutines may call it with the same
	// info, and the underlying counter transitions at most once.
	UpdateMetadata(kind Kind, info *UpdateInfo)

	// FastUpdateMetadata unconditionally bumps th's counter for kind,
	// skipping UpdateInfo entirely. Only the Handshake fast path calls
	// this; other methodologies implement it as a no-op.
	FastUpdateMetadata(kind Kind, th *registry.Handle)

	// Compute returns a size linearizable to a single instant between
	// its invocation and return.
	Compute(ctx context.Context) (int64, error)

	// RegisterToBarrier enrolls th with the methodology's barrier, if
	// it has one. No-op outside Handshake.
	RegisterToBarrier(th *registry.Handle)

	// LeaveBarrier withdraws th from the methodology's barrier, if it
	// has one. No-op outside Handshake.
	LeaveBarrier(th *registry.Handle)

	// SizePhase returns the barrier parity an updater should consult to
	// choose fast vs. slow path: even permits the fast path (safe to call
	// FastUpdateMetadata), odd requires the full CreateUpdateInfo/
	// UpdateMetadata path. Only Handshake's phase ever toggles; the other
	// three methodologies have no fast path that skips the UpdateInfo/
	// helping protocol and so report a permanent 1 (odd).
	SizePhase() int64
}
