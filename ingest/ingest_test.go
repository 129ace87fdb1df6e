package ingest

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func newTestIngestor(t *testing.T, cfg Config) *Ingestor {
	t.Helper()
	in, err := New(cfg)
	if err != nil {
		t.Fatalf("failed building ingestor: %v", err)
	}
	return in
}

func expectSamples(t *testing.T, got, expected []float64) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("expected %d samples, got %d: %v", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("sample %d: expected %f, got %f", i, expected[i], got[i])
		}
	}
}

func TestSingleSamplePushes(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 4})
	for i := 1; i <= 10_000; i++ {
		if !in.Push(0, []float64{float64(i)}) {
			t.Fatalf("push %d unexpectedly rejected", i)
		}
	}
	expected := make([]float64, 0, 100)
	for i := 9901; i <= 10_000; i++ {
		expected = append(expected, float64(i))
	}
	expectSamples(t, in.Latest(0, 100), expected)
	if in.PacketCount() != 10_000 {
		t.Errorf("expected 10000 packets, got %d", in.PacketCount())
	}
	if in.DroppedPackets() != 0 {
		t.Errorf("expected no dropped packets, got %d", in.DroppedPackets())
	}
}

func TestLatestShorterHistory(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 1})
	in.Push(0, []float64{1, 2, 3})
	expectSamples(t, in.Latest(0, 10), []float64{1, 2, 3})
	if got := in.Latest(0, 0); len(got) != 0 {
		t.Errorf("expected no samples for a zero count, got %v", got)
	}
	if got := in.Latest(3, 10); got != nil {
		t.Errorf("expected nil for an unknown channel, got %v", got)
	}
}

func TestRingEviction(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 1, Retention: 8})
	for i := 0; i < 5; i++ {
		in.Push(0, []float64{float64(3 * i), float64(3*i + 1), float64(3*i + 2)})
	}
	// 15 samples written into a ring of 8: 7..14 remain, wrapping the end.
	expectSamples(t, in.Latest(0, 100), []float64{7, 8, 9, 10, 11, 12, 13, 14})
	expectSamples(t, in.Latest(0, 3), []float64{12, 13, 14})
	if in.DroppedPackets() != 0 {
		t.Errorf("eviction must not count as a drop, got %d drops", in.DroppedPackets())
	}
	if in.Total(0) != 15 {
		t.Errorf("expected 15 total samples, got %d", in.Total(0))
	}
	if in.BufferFill() != 1 {
		t.Errorf("expected a full buffer, got %f", in.BufferFill())
	}
}

func TestOversizedBatchKeepsTail(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 1, Retention: 4})
	in.Push(0, []float64{1})
	in.Push(0, []float64{2, 3, 4, 5, 6, 7})
	expectSamples(t, in.Latest(0, 4), []float64{4, 5, 6, 7})
	if in.Total(0) != 7 {
		t.Errorf("expected 7 total samples, got %d", in.Total(0))
	}
}

func TestDroppedPackets(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 2})
	type push struct {
		channel int
		samples []float64
		ok      bool
	}
	for i, p := range []push{
		{channel: 0, samples: []float64{1}, ok: true},
		{channel: -1, samples: []float64{1}},
		{channel: 2, samples: []float64{1}},
		{channel: 1, samples: nil},
		{channel: 1, samples: []float64{1, math.NaN()}},
		{channel: 1, samples: []float64{math.Inf(1)}},
		{channel: 1, samples: []float64{4, 5}, ok: true},
	} {
		before := in.DroppedPackets()
		accepted := in.Push(p.channel, p.samples)
		if accepted != p.ok {
			t.Errorf("push %d: expected accepted=%v, got %v", i, p.ok, accepted)
		}
		drops := in.DroppedPackets() - before
		if p.ok && drops != 0 {
			t.Errorf("push %d: accepted push incremented drops by %d", i, drops)
		} else if !p.ok && drops != 1 {
			t.Errorf("push %d: rejected push incremented drops by %d", i, drops)
		}
	}
	if in.PacketCount() != 2 {
		t.Errorf("expected 2 accepted packets, got %d", in.PacketCount())
	}
	if in.Active(1) != true {
		t.Errorf("channel 1 should be active after a valid batch")
	}
	before := in.DroppedPackets()
	in.Drop()
	if in.DroppedPackets() != before+1 {
		t.Errorf("expected Drop to count one dropped packet")
	}
}

func TestActivation(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 3})
	in.Push(2, nil)
	if in.Active(2) {
		t.Errorf("an empty batch must not activate a channel")
	}
	if in.BufferFill() != 0 {
		t.Errorf("expected zero fill with no active channels, got %f", in.BufferFill())
	}
	in.Push(2, []float64{1})
	if !in.Active(2) {
		t.Errorf("a non-empty batch must activate a channel")
	}
	if s := in.Stats(); s.ActiveChannels != 1 {
		t.Errorf("expected one active channel, got %d", s.ActiveChannels)
	}
}

func TestLatestIsCopy(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 1})
	batch := []float64{1, 2, 3}
	in.Push(0, batch)
	batch[0] = 100
	got := in.Latest(0, 3)
	got[1] = 200
	expectSamples(t, in.Latest(0, 3), []float64{1, 2, 3})
}

func TestAppendLatestReusesSlice(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 1})
	in.Push(0, []float64{1, 2, 3, 4})
	scratch := make([]float64, 0, 16)
	got := in.AppendLatest(scratch[:0], 0, 2)
	expectSamples(t, got, []float64{3, 4})
	if &got[0] != &scratch[:1][0] {
		t.Errorf("expected AppendLatest to write into the provided slice")
	}
}

func TestDataRate(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 1, SampleRate: 1000})
	now := time.Unix(1_000, 0)
	in.now = func() time.Time { return now }
	for i := 0; i < 10; i++ {
		in.Push(0, make1(100))
		now = now.Add(100 * time.Millisecond)
	}
	now = now.Add(-time.Millisecond)
	if rate := in.DataRate(); rate != 1000 {
		t.Errorf("expected 1000 samples/s, got %f", rate)
	}
	now = now.Add(5 * time.Second)
	if rate := in.DataRate(); rate != 0 {
		t.Errorf("expected the rate to decay to zero, got %f", rate)
	}
}

func TestDataRatePartialBucket(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 1, SampleRate: 1000})
	now := time.Unix(1_000, 0)
	in.now = func() time.Time { return now }
	for i := 0; i < 10; i++ {
		in.Push(0, make1(100))
		now = now.Add(100 * time.Millisecond)
	}
	// A bucket that has only just started must not drag the rate down.
	in.Push(0, make1(10))
	if rate := in.DataRate(); rate != 1000 {
		t.Errorf("expected a steady 1000 samples/s, got %f", rate)
	}
	now = now.Add(50 * time.Millisecond)
	in.Push(0, make1(40))
	if rate := in.DataRate(); rate != 1000 {
		t.Errorf("expected a steady 1000 samples/s mid bucket, got %f", rate)
	}
}

func make1(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	for i, cfg := range []Config{
		{Channels: 0},
		{Channels: MaxChannels + 1},
		{Channels: 1, SampleRate: -1},
		{Channels: 1, Retention: -5},
		{Channels: 2, Sites: []int{1}},
		{Channels: 2, Sites: []int{1, SiteCount}},
		{Channels: 2, Sites: []int{7, 7}},
	} {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("config %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
	in := newTestIngestor(t, Config{Channels: 2, SampleRate: 100, Sites: []int{4095, 0}})
	if site, ok := in.Site(0); !ok || site != 4095 {
		t.Errorf("expected channel 0 on site 4095, got %d %v", site, ok)
	}
	if _, ok := in.Site(2); ok {
		t.Errorf("expected no site for an unknown channel")
	}
	if in.Retention() != 1000 {
		t.Errorf("expected retention derived from sample rate to be 1000, got %d", in.Retention())
	}
}

func TestConcurrentPushAndRead(t *testing.T) {
	in := newTestIngestor(t, Config{Channels: 1, Retention: 64})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			in.Push(0, []float64{float64(i), float64(i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			got := in.Latest(0, 32)
			for j := 1; j < len(got); j++ {
				if got[j] < got[j-1] {
					t.Errorf("snapshot out of order: %v", got)
					return
				}
			}
		}
	}()
	wg.Wait()
}
