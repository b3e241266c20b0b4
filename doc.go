// Package sizecalc defines the shared vocabulary for the size-calculator
// library: the operation Kind a SizeSet update carries, the UpdateInfo a
// slow-path update pre-announces before it linearizes, and the Calculator
// and SizeSet interfaces that tie an underlying ordered map to one of the
// four methodologies under calculator/.
//
// The four methodologies themselves — calculator/sp, calculator/handshake,
// calculator/lockcalc and calculator/optimistic — each implement Calculator.
// registry assigns the dense per-thread identifiers every methodology keys
// its counters on, and barrier provides the IdleTimeDynamicBarrier the
// handshake methodology uses to steer updaters between its fast and slow
// path.
package sizecalc
