package sizecalc

import "sizecalc/registry"

// Key and Value are the key/value types a SizeSet stores. They are defined
// as any rather than made generic so non-comparable or user-defined key
// types keep working the way the underlying Go map type allows; a NullKey/
// NullValue error is raised instead of a generic-parameter zero-value check.
type (
	Key   = any
	Value = any
)

// SizeSet is the contract an underlying concurrent ordered map must satisfy
// to plug into one of the four Calculator methodologies. The set owns all
// set semantics (ordering, iteration, persistence — all explicitly out of
// scope for this module, see SPEC_FULL.md §1); this module only requires
// that every insert/remove linearization point calls into its Calculator
// per the integration contract (SPEC_FULL.md §4.7).
type SizeSet interface {
	// Contains reports whether key is present. Any node it observes
	// carrying a pending UpdateInfo is helped before Contains returns.
	Contains(h *registry.Handle, key Key) (bool, error)

	// Insert adds key/value if key is absent, reporting whether it was
	// newly inserted. Returns sizecalcerr.ErrNullKey / ErrNullValue for
	// a nil key or value.
	Insert(h *registry.Handle, key Key, value Value) (bool, error)

	// Remove deletes key if present, reporting whether it was removed.
	Remove(h *registry.Handle, key Key) (bool, error)

	// Size returns a linearizable count, saturating to math.MaxInt on
	// overflow.
	Size() int

	// SumOfKeys is a debug/checksum aid: the sum of every present key
	// interpreted as an integer magnitude, defined by the concrete set.
	SumOfKeys() int64

	// Calculator returns the SizeCalculator this set is wired to.
	Calculator() Calculator
}
