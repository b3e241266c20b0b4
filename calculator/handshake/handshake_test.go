package handshake

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"sizecalc"
	"sizecalc/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fastUpdate drives an update the way RWMap would on the even-phase fast
// path: register, read phase, bump, leave.
func fastUpdate(c *Calculator, h *registry.Handle, kind sizecalc.Kind) {
	c.RegisterToBarrier(h)
	defer c.LeaveBarrier(h)
	c.FastUpdateMetadata(kind, h)
}

func TestFastPathComputeAfterQuiescence(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(4))
	c := New(reg, 4)
	h, err := reg.Register()
	if err != nil {
		t.Fatal(err)
	}

	fastUpdate(c, h, sizecalc.Insert)
	fastUpdate(c, h, sizecalc.Insert)
	fastUpdate(c, h, sizecalc.Remove)

	got, err := c.Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("size = %d, want 1", got)
	}
}

func TestSizePhaseStartsEven(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(2))
	c := New(reg, 2)
	if got := c.SizePhase(); got&1 != 0 {
		t.Errorf("initial phase = %d, want even", got)
	}
}

func TestComputeReturnsToFastPhase(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(2))
	c := New(reg, 2)

	if _, err := c.Compute(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.SizePhase(); got&1 != 0 {
		t.Errorf("phase after Compute = %d, want even (fast path restored)", got)
	}
}

func TestConcurrentFastUpdatesSumCorrectly(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(16))
	c := New(reg, 16)

	const updaters = 16
	const perUpdater = 100
	var wg sync.WaitGroup
	for i := 0; i < updaters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := reg.Register()
			if err != nil {
				t.Error(err)
				return
			}
			for j := 0; j < perUpdater; j++ {
				fastUpdate(c, h, sizecalc.Insert)
			}
		}()
	}
	wg.Wait()

	got, err := c.Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != updaters*perUpdater {
		t.Errorf("size = %d, want %d", got, updaters*perUpdater)
	}
}

func TestFastPathCountersAreIndependentPerThread(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(2))
	c := New(reg, 2)
	h1, err := reg.Register()
	if err != nil {
		t.Fatal(err)
	}
	h2, err := reg.Register()
	if err != nil {
		t.Fatal(err)
	}

	fastUpdate(c, h1, sizecalc.Insert)
	fastUpdate(c, h1, sizecalc.Insert)
	fastUpdate(c, h2, sizecalc.Remove)

	if got := c.fastTotal.Net(h1.ID()); got != 2 {
		t.Errorf("thread 1 fast total = %d, want 2", got)
	}
	if got := c.fastTotal.Net(h2.ID()); got != -1 {
		t.Errorf("thread 2 fast total = %d, want -1", got)
	}
}

func TestSlowPathBumpIsVisibleToCompute(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(2))
	c := New(reg, 2)
	h, err := reg.Register()
	if err != nil {
		t.Fatal(err)
	}

	info := c.CreateUpdateInfo(sizecalc.Insert, h)
	c.UpdateMetadata(sizecalc.Insert, info)

	got, err := c.Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("size = %d, want 1 (slow-path counters contribute to total)", got)
	}
}

func TestConcurrentComputeCallersAgree(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(4))
	c := New(reg, 4)
	h, err := reg.Register()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		fastUpdate(c, h, sizecalc.Insert)
	}

	var wg sync.WaitGroup
	results := make([]int64, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := c.Compute(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = n
		}(i)
	}
	wg.Wait()

	for i, n := range results {
		if n != 10 {
			t.Errorf("result[%d] = %d, want 10", i, n)
		}
	}
}
