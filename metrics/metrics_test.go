package metrics

import (
	"testing"
	"time"

	"git.sr.ht/~whereswaldon/spikescope/ingest"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed gathering metrics: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestCollector(t *testing.T) {
	in, err := ingest.New(ingest.Config{Channels: 3, Retention: 10})
	if err != nil {
		t.Fatalf("failed building ingestor: %v", err)
	}
	in.SetConnected(true)
	in.Push(0, []float64{1, 2, 3, 4, 5})
	in.Push(2, []float64{1})
	in.Push(7, []float64{1})

	c := NewCollector(in)
	reg := prometheus.NewRegistry()
	if err := c.Register(reg); err != nil {
		t.Fatalf("failed registering collector: %v", err)
	}
	c.ObserveFrame(3 * time.Millisecond)

	families := gather(t, reg)
	expectValue := func(name string, expected float64) {
		t.Helper()
		f, ok := families[name]
		if !ok {
			t.Fatalf("missing metric %s", name)
		}
		m := f.GetMetric()[0]
		var got float64
		switch {
		case m.Gauge != nil:
			got = m.GetGauge().GetValue()
		case m.Counter != nil:
			got = m.GetCounter().GetValue()
		}
		if got != expected {
			t.Errorf("%s: expected %f, got %f", name, expected, got)
		}
	}
	expectValue("spikescope_ingest_connected", 1)
	expectValue("spikescope_ingest_packets_total", 2)
	expectValue("spikescope_ingest_dropped_packets_total", 1)
	expectValue("spikescope_ingest_active_channels", 2)
	// Six samples held across two active channels of ten.
	expectValue("spikescope_ingest_buffer_fill_ratio", 0.3)

	retained := families["spikescope_ingest_retained_samples"]
	if retained == nil || len(retained.GetMetric()) != 2 {
		t.Fatalf("expected retained samples for the two active channels")
	}
	frames := families["spikescope_render_frame_seconds"]
	if frames == nil || frames.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Errorf("expected one observed frame")
	}
}

func TestFrameTimer(t *testing.T) {
	ft := NewFrameTimer()
	for i := 1; i <= 100; i++ {
		ft.Record(time.Duration(i) * time.Millisecond)
	}
	if ft.Count() != 100 {
		t.Errorf("expected 100 frames, got %d", ft.Count())
	}
	if p50 := ft.Quantile(.5); p50 < 49*time.Millisecond || p50 > 51*time.Millisecond {
		t.Errorf("expected a median near 50ms, got %v", p50)
	}
	if p99 := ft.Quantile(.99); p99 < 98*time.Millisecond || p99 > 100*time.Millisecond {
		t.Errorf("expected p99 near 99ms, got %v", p99)
	}
	if ft.Last() != 100*time.Millisecond {
		t.Errorf("expected the last frame to be 100ms, got %v", ft.Last())
	}
	ft.Reset()
	if ft.Quantile(.5) != 0 {
		t.Errorf("expected an empty interval after Reset")
	}
	if ft.Count() != 100 || ft.Snapshot().TotalCount() != 100 {
		t.Errorf("expected the lifetime count to survive Reset")
	}
	ft.Record(time.Hour)
	if got := ft.Quantile(1); got > 10*time.Second+10*time.Millisecond {
		t.Errorf("expected out of range frames to be clamped, got %v", got)
	}
}
