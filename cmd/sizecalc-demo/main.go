// Command sizecalc-demo wires one RWMap up to a chosen SizeCalculator
// methodology and runs a small concurrent insert/remove/size workload
// against it, printing the result. It is a demonstration harness only —
// not the benchmark harness the library's subject explicitly excludes
// (SPEC_FULL.md §1) — and takes no input files.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sizecalc"
	"sizecalc/calculator/handshake"
	"sizecalc/calculator/lockcalc"
	"sizecalc/calculator/optimistic"
	"sizecalc/calculator/sp"
	"sizecalc/internal/orderedmap"
	"sizecalc/metrics"
	"sizecalc/registry"
)

var (
	methodology     string
	threads         int
	opsPerGoroutine int
	verbose         bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sizecalc-demo",
		Short: "Run a small concurrent workload against one SizeCalculator methodology",
		Long: `sizecalc-demo builds an RWMap wired to one of the four SizeCalculator
methodologies (sp, handshake, lock, optimistic), fans out a handful of
goroutines performing inserts, removes and concurrent size() calls against
it, and reports the final size alongside the sum-of-keys checksum.`,
		RunE: runDemo,
	}
	cmd.Flags().StringVarP(&methodology, "methodology", "m", "sp", "sp | handshake | lock | optimistic")
	cmd.Flags().IntVarP(&threads, "threads", "t", 8, "number of concurrent updater goroutines")
	cmd.Flags().IntVarP(&opsPerGoroutine, "ops", "n", 2000, "operations per updater goroutine")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func runDemo(cmd *cobra.Command, args []string) error {
	log := newLogger()
	defer log.Sync() //nolint:errcheck

	reg := registry.New(registry.WithMaxThreads(registry.DefaultMaxThreads), registry.WithLogger(log))

	mtx := metrics.New(methodology)
	if err := mtx.Register(prometheus.NewRegistry()); err != nil {
		return err
	}

	calc, err := buildCalculator(reg, mtx)
	if err != nil {
		return err
	}

	set := orderedmap.New(func(a, b sizecalc.Key) bool {
		return a.(int) < b.(int)
	}, calc)

	log.Info("starting demo", zap.String("methodology", methodology), zap.Int("threads", threads))

	group, _ := errgroup.WithContext(context.Background())
	for g := 0; g < threads; g++ {
		g := g
		group.Go(func() error {
			h, err := reg.Register()
			if err != nil {
				log.Error("register failed", zap.Error(err))
				return err
			}
			mtx.RegistryActive.Set(float64(reg.UpperBound()))
			rnd := rand.New(rand.NewSource(int64(g) + 1))
			for i := 0; i < opsPerGoroutine; i++ {
				key := rnd.Intn(opsPerGoroutine * threads)
				if rnd.Intn(2) == 0 {
					if _, err := set.Insert(h, key, key); err != nil {
						log.Warn("insert failed", zap.Error(err))
					}
				} else {
					if _, err := set.Remove(h, key); err != nil {
						log.Warn("remove failed", zap.Error(err))
					}
				}
			}
			h.Deregister()
			return nil
		})
	}

	var sampleCount atomic.Int64
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			start := time.Now()
			_, err := calc.Compute(context.Background())
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			mtx.ComputeTotal.WithLabelValues(outcome).Inc()
			mtx.ComputeDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
			mtx.BarrierPhase.Set(float64(calc.SizePhase()))
			if err == nil {
				sampleCount.Add(1)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	if err := group.Wait(); err != nil {
		close(stop)
		return err
	}
	close(stop)

	finalSize := set.Size()
	fmt.Printf("methodology:   %s\n", methodology)
	fmt.Printf("final size:    %d\n", finalSize)
	fmt.Printf("sum of keys:   %d\n", set.SumOfKeys())
	fmt.Printf("size samples:  %d\n", sampleCount.Load())
	return nil
}

func buildCalculator(reg *registry.Registry, mtx *metrics.Metrics) (sizecalc.Calculator, error) {
	switch methodology {
	case "sp":
		return sp.New(reg, registry.DefaultMaxThreads), nil
	case "handshake":
		return handshake.New(reg, registry.DefaultMaxThreads), nil
	case "lock":
		return lockcalc.New(reg, registry.DefaultMaxThreads), nil
	case "optimistic":
		return optimistic.New(reg, registry.DefaultMaxThreads, optimistic.WithHelpObserver(func() {
			mtx.HelpTotal.WithLabelValues().Inc()
		})), nil
	default:
		return nil, fmt.Errorf("unknown methodology %q: want sp, handshake, lock or optimistic", methodology)
	}
}
