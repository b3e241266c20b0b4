package orderedmap

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"sizecalc"
	"sizecalc/calculator/handshake"
	"sizecalc/calculator/lockcalc"
	"sizecalc/calculator/optimistic"
	"sizecalc/calculator/sp"
	"sizecalc/registry"
	"sizecalc/sizecalcerr"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func intLess(a, b sizecalc.Key) bool { return a.(int) < b.(int) }

func TestInsertReportsNewlyInserted(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(4))
	calc := sp.New(reg, 4)
	m := New(intLess, calc)
	h, err := reg.Register()
	require.NoError(t, err)

	ok, err := m.Insert(h, 1, "one")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Insert(h, 1, "one-again")
	require.NoError(t, err)
	assert.False(t, ok, "re-inserting an existing key reports false")

	assert.Equal(t, 1, m.Size())
}

func TestRemoveReportsWhetherPresent(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(4))
	calc := sp.New(reg, 4)
	m := New(intLess, calc)
	h, err := reg.Register()
	require.NoError(t, err)

	ok, err := m.Remove(h, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Insert(h, 1, "one")
	require.NoError(t, err)

	ok, err = m.Remove(h, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, m.Size())
}

func TestContainsReflectsPresence(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(4))
	calc := sp.New(reg, 4)
	m := New(intLess, calc)
	h, err := reg.Register()
	require.NoError(t, err)

	found, err := m.Contains(h, 5)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = m.Insert(h, 5, "five")
	require.NoError(t, err)

	found, err = m.Contains(h, 5)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestNullKeyAndValueErrors(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(2))
	calc := sp.New(reg, 2)
	m := New(intLess, calc)
	h, err := reg.Register()
	require.NoError(t, err)

	_, err = m.Insert(h, nil, "v")
	assert.ErrorIs(t, err, sizecalcerr.ErrNullKey)

	_, err = m.Insert(h, 1, nil)
	assert.ErrorIs(t, err, sizecalcerr.ErrNullValue)

	_, err = m.Remove(h, nil)
	assert.ErrorIs(t, err, sizecalcerr.ErrNullKey)

	_, err = m.Contains(h, nil)
	assert.ErrorIs(t, err, sizecalcerr.ErrNullKey)
}

func TestSizeMatchesConcurrentInsertsForEveryMethodology(t *testing.T) {
	for name, build := range map[string]func(reg *registry.Registry) sizecalc.Calculator{
		"sp":         func(reg *registry.Registry) sizecalc.Calculator { return sp.New(reg, 64) },
		"handshake":  func(reg *registry.Registry) sizecalc.Calculator { return handshake.New(reg, 64) },
		"lock":       func(reg *registry.Registry) sizecalc.Calculator { return lockcalc.New(reg, 64) },
		"optimistic": func(reg *registry.Registry) sizecalc.Calculator { return optimistic.New(reg, 64) },
	} {
		t.Run(name, func(t *testing.T) {
			reg := registry.New(registry.WithMaxThreads(64))
			m := New(intLess, build(reg))

			const goroutines = 16
			const perGoroutine = 20
			var wg sync.WaitGroup
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					h, err := reg.Register()
					if err != nil {
						t.Error(err)
						return
					}
					for i := 0; i < perGoroutine; i++ {
						key := g*perGoroutine + i
						if _, err := m.Insert(h, key, key); err != nil {
							t.Error(err)
						}
					}
				}(g)
			}
			wg.Wait()

			assert.Equal(t, goroutines*perGoroutine, m.Size())
		})
	}
}

// TestContainsHelpsPendingSlowPathInsert reproduces the race the
// integration contract's helping bullet exists to close: a node is made
// visible to readers before its counter bump commits, so a reader that
// witnesses it must drive the bump itself rather than returning early.
func TestContainsHelpsPendingSlowPathInsert(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(2))
	calc := sp.New(reg, 2)
	m := New(intLess, calc)
	h, err := reg.Register()
	require.NoError(t, err)

	// Manually stage the node the way Insert's slow path would, before it
	// has called UpdateMetadata: the node is already present, but its
	// pending UpdateInfo hasn't been committed yet.
	info := calc.CreateUpdateInfo(sizecalc.Insert, h)
	m.mu.Lock()
	m.items = append(m.items, entry{key: 1, value: 1, pending: info, kind: sizecalc.Insert})
	m.mu.Unlock()

	require.Equal(t, int64(0), mustCompute(t, calc), "bump not yet committed")

	found, err := m.Contains(h, 1)
	require.NoError(t, err)
	assert.True(t, found)

	assert.Equal(t, int64(1), mustCompute(t, calc), "Contains must have helped the pending bump")
}

// TestInsertHelpsTombstonedPendingRemove covers the remove side: a
// tombstoned slot whose removal bump hasn't committed must still be helped,
// here by a subsequent Insert reusing the same key, before the slot is
// reused.
func TestInsertHelpsTombstonedPendingRemove(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(2))
	calc := sp.New(reg, 2)
	m := New(intLess, calc)
	h, err := reg.Register()
	require.NoError(t, err)

	insertInfo := calc.CreateUpdateInfo(sizecalc.Insert, h)
	calc.UpdateMetadata(sizecalc.Insert, insertInfo)

	// Stage a tombstoned remove the way Remove's slow path would, before
	// it has called UpdateMetadata for the remove.
	removeInfo := calc.CreateUpdateInfo(sizecalc.Remove, h)
	m.mu.Lock()
	m.items = append(m.items, entry{key: 1, value: 1, pending: removeInfo, kind: sizecalc.Remove, tomb: true})
	m.mu.Unlock()

	require.Equal(t, int64(1), mustCompute(t, calc), "remove bump not yet committed")

	ok, err := m.Insert(h, 1, "reinserted")
	require.NoError(t, err)
	assert.True(t, ok)

	// Both the tombstoned remove and the fresh insert must be reflected:
	// net zero from the pair, plus one for the new insert.
	assert.Equal(t, int64(1), mustCompute(t, calc), "Insert must have helped the pending remove")
	found, err := m.Contains(h, 1)
	require.NoError(t, err)
	assert.True(t, found)
}

func mustCompute(t *testing.T, calc sizecalc.Calculator) int64 {
	t.Helper()
	n, err := calc.Compute(context.Background())
	require.NoError(t, err)
	return n
}

func TestSumOfKeys(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(2))
	calc := sp.New(reg, 2)
	m := New(intLess, calc)
	h, err := reg.Register()
	require.NoError(t, err)

	for _, k := range []int{1, 2, 3} {
		_, err := m.Insert(h, k, k)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 6, m.SumOfKeys())
}

func TestCalculatorReturnsWiredInstance(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(2))
	calc := sp.New(reg, 2)
	m := New(intLess, calc)
	assert.Same(t, calc, m.Calculator())
}
