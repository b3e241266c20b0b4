package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAddsEveryInstrumentExactlyOnce(t *testing.T) {
	m := New("sp")
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("expected a second Register against the same registerer to fail with a duplicate-collector error")
	}
}

func TestNewLabelsInstrumentsByMethodology(t *testing.T) {
	m := New("lockcalc")
	m.ComputeTotal.WithLabelValues("ok").Inc()

	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() != "sizecalc_size_compute_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "methodology" && l.GetValue() == "lockcalc" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected size_compute_total to carry a methodology=lockcalc label")
	}
}
