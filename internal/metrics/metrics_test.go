package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nmxmxh/sporemesh/pkg/mesh"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestObserveRecordsMeshStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	gauges := NewMeshGauges(reg)

	gauges.Observe("status", mesh.Stats{
		MeshSize:       3,
		KnownPeers:     7,
		MedianScore:    0.42,
		DuplicateCount: 5,
		BackoffCount:   1,
	})

	if v := gaugeValue(t, gauges.meshSize.WithLabelValues("status")); v != 3 {
		t.Fatalf("expected mesh size 3, got %f", v)
	}
	if v := gaugeValue(t, gauges.medianScore.WithLabelValues("status")); v != 0.42 {
		t.Fatalf("expected median score 0.42, got %f", v)
	}
	if v := gaugeValue(t, gauges.duplicateCount.WithLabelValues("status")); v != 5 {
		t.Fatalf("expected duplicate count 5, got %f", v)
	}
}

func TestEnergyGaugeReflectsLastSet(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewEnergyGauge(reg)

	g.Set(0.73)

	if v := gaugeValue(t, g.gauge); v != 0.73 {
		t.Fatalf("expected energy 0.73, got %f", v)
	}
}
