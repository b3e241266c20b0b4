// Package metrics exposes the library's Prometheus instrumentation,
// grounded on the plain prometheus.NewX + explicit Register idiom the pack
// uses (grafana-tempo/cmd/tempo-vulture/metrics.go), adapted into a
// constructable set rather than package-level globals with an init():
// a library embedded into someone else's process must not silently claim
// the default registerer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "sizecalc"

// Metrics is the full set of instruments one Calculator/SizeSet pairing
// exposes. Construct with New and Register it against whichever
// prometheus.Registerer the embedding application uses.
type Metrics struct {
	ComputeTotal    *prometheus.CounterVec
	ComputeDuration *prometheus.HistogramVec
	HelpTotal       *prometheus.CounterVec
	BarrierPhase    prometheus.Gauge
	RegistryActive  prometheus.Gauge
}

// New constructs a Metrics set labeled with methodology, the name of the
// Calculator variant (sp, handshake, lockcalc, optimistic) instrumenting
// this set.
func New(methodology string) *Metrics {
	constLabels := prometheus.Labels{"methodology": methodology}
	return &Metrics{
		ComputeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "size_compute_total",
			Help:        "total number of Compute calls, by outcome",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		ComputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "size_compute_duration_seconds",
			Help:        "latency of Compute calls",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"outcome"}),
		HelpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "size_help_total",
			Help:        "total number of times an updater helped complete a pending size computation",
			ConstLabels: constLabels,
		}, []string{}),
		BarrierPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "barrier_phase",
			Help:        "current IdleTimeDynamicBarrier phase (Handshake only; the other methodologies report a constant 1)",
			ConstLabels: constLabels,
		}),
		RegistryActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "thread_registry_active",
			Help:      "current high-water mark of thread registry identifiers",
		}),
	}
}

// Register adds every instrument to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.ComputeTotal, m.ComputeDuration, m.HelpTotal, m.BarrierPhase, m.RegistryActive,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
