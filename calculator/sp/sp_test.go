package sp

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

func update(t *testing.T, c *Calculator, h *registry.Handle, kind sizecalc.Kind) {
	t.Helper()
	info := c.CreateUpdateInfo(kind, h)
	c.UpdateMetadata(kind, info)
}

func TestComputeReflectsSequentialUpdates(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(4))
	c := New(reg, 4)
	h, err := reg.Register()
	if err != nil {
		t.Fatal(err)
	}

	update(t, c, h, sizecalc.Insert)
	update(t, c, h, sizecalc.Insert)
	update(t, c, h, sizecalc.Remove)

	got, err := c.Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("size = %d, want 1", got)
	}
}

func TestComputeSumsAcrossThreads(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(8))
	c := New(reg, 8)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := reg.Register()
			if err != nil {
				t.Error(err)
				return
			}
			update(t, c, h, sizecalc.Insert)
		}()
	}
	wg.Wait()

	got, err := c.Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 8 {
		t.Errorf("size = %d, want 8", got)
	}
}

func TestConcurrentUpdatesDuringComputeAreNeverLost(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(16))
	c := New(reg, 16)

	const updaters = 16
	const perUpdater = 200
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
				update(t, c, h, sizecalc.Insert)
			}
		}()
	}

	// Compute concurrently with updaters; every returned value must be
	// plausible (between 0 and the eventual total) — SP never loses or
	// double-counts an update, it may only observe it early or late.
	results := make(chan int64, 50)
	go func() {
		for i := 0; i < 50; i++ {
			n, err := c.Compute(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			results <- n
		}
		close(results)
	}()

	wg.Wait()
	for n := range results {
		if n < 0 || n > updaters*perUpdater {
			t.Errorf("implausible intermediate size %d", n)
		}
	}

	final, err := c.Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if final != updaters*perUpdater {
		t.Errorf("final size = %d, want %d", final, updaters*perUpdater)
	}
}

func TestRescanOnGrowthPicksUpLateRegistrants(t *testing.T) {
	reg := registry.New(registry.WithMaxThreads(4))
	c := New(reg, 4)
	h0, err := reg.Register()
	if err != nil {
		t.Fatal(err)
	}
	update(t, c, h0, sizecalc.Insert)

	h1, err := reg.Register()
	if err != nil {
		t.Fatal(err)
	}
	update(t, c, h1, sizecalc.Insert)

	got, err := c.Compute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("size = %d, want 2", got)
	}
}
