package main

import (
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	"git.sr.ht/~whereswaldon/spikescope/backend"
	"git.sr.ht/~whereswaldon/spikescope/ingest"
	"git.sr.ht/~whereswaldon/spikescope/metrics"
)

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{"-channels", "4", "-rate", "1000", "-sites", "3, 1,2,0", "-snapshot-size", "640x480"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Channels != 4 || cfg.SampleRate != 1000 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.Sites) != 4 || cfg.Sites[0] != 3 || cfg.Sites[3] != 0 {
		t.Errorf("unexpected sites %v", cfg.Sites)
	}
	if cfg.SnapshotSize != image.Pt(640, 480) {
		t.Errorf("unexpected snapshot size %v", cfg.SnapshotSize)
	}
	if cfg.ReplayRate != 1000 {
		t.Errorf("expected replay to default to the sample rate, got %f", cfg.ReplayRate)
	}
	if cfg.windowSamples() != 1000 {
		t.Errorf("expected a one second window of 1000 samples, got %d", cfg.windowSamples())
	}
}

func TestParseConfigErrors(t *testing.T) {
	for _, args := range [][]string{
		{"-channels", "0"},
		{"-channels", "65"},
		{"-channels", "2", "-sites", "1"},
		{"-channels", "2", "-sites", "1,x"},
		{"-window", "0s"},
		{"-amplitude", "-1"},
		{"-snapshot-size", "big"},
		{"-rate", "0"},
	} {
		_, err := parseConfig(args)
		if !errors.Is(err, ErrInvalidConfig) && !errors.Is(err, ingest.ErrInvalidConfig) {
			t.Errorf("%v: expected a configuration error, got %v", args, err)
		}
	}
}

func TestRightAligned(t *testing.T) {
	vp := rightAligned(5000, 1000, 50)
	if vp.Start != 4000 || vp.End != 5000 || vp.YMin != -50 || vp.YMax != 50 {
		t.Errorf("unexpected viewport %+v", vp)
	}
	// Short histories stay pinned to the right edge.
	vp = rightAligned(10, 1000, 1)
	if vp.End != 10 || vp.End-vp.Start != 1000 {
		t.Errorf("unexpected viewport %+v", vp)
	}
	if err := rightAligned(0, 1000, 1).Validate(); err != nil {
		t.Errorf("expected an empty history to give a valid viewport, got %v", err)
	}
}

func TestFeedLoad(t *testing.T) {
	in, err := ingest.New(ingest.Config{Channels: 3, Retention: 100})
	if err != nil {
		t.Fatalf("failed building ingestor: %v", err)
	}
	in.Push(0, []float64{1, 2, 3, 4})
	in.Push(2, []float64{5, 6})
	f := newFeed(in)
	if longest := f.load(3, nil); longest != 3 {
		t.Errorf("expected the longest history to be 3, got %d", longest)
	}
	if got := f.scratch[0]; len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Errorf("unexpected channel 0 history %v", got)
	}
	if len(f.scratch[1]) != 0 {
		t.Errorf("expected nothing for an idle channel")
	}
	backing := &f.scratch[0][0]
	if longest := f.load(10, func(ch int) bool { return ch != 0 }); longest != 2 {
		t.Errorf("expected only channel 2 to load, got longest %d", longest)
	}
	if len(f.scratch[0]) != 0 {
		t.Errorf("expected a disabled channel to load nothing")
	}
	f.load(3, nil)
	if &f.scratch[0][0] != backing {
		t.Errorf("expected scratch space to be reused between loads")
	}
}

func TestStatusText(t *testing.T) {
	frames := metrics.NewFrameTimer()
	st := backend.Status{
		Mode: backend.ModeStreaming,
		Name: "ws://rig:8080/stream",
		Stats: ingest.Stats{
			Connected:      true,
			BufferFill:     .5,
			PacketCount:    12,
			DroppedPackets: 3,
			ActiveChannels: 2,
		},
	}
	text := statusText(st, frames)
	for _, want := range []string{"streaming", "ws://rig:8080/stream", "connected", "buffer 50%", "12 packets", "3 dropped"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in status %q", want, text)
		}
	}
	if strings.Contains(text, "frame") {
		t.Errorf("expected no frame timings before any frame, got %q", text)
	}
	frames.Record(2 * time.Millisecond)
	if text := statusText(st, frames); !strings.Contains(text, "frame p50") {
		t.Errorf("expected frame timings in %q", text)
	}
}
