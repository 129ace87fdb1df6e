package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"git.sr.ht/~whereswaldon/spikescope/ingest"
	"git.sr.ht/~whereswaldon/spikescope/source"
)

// scriptedSource pushes one batch and then waits for release or cancellation.
type scriptedSource struct {
	release chan error
	started chan struct{}
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{release: make(chan error, 1), started: make(chan struct{})}
}

func (s *scriptedSource) Run(ctx context.Context, sink source.Sink) error {
	sink.SetConnected(true)
	defer sink.SetConnected(false)
	sink.Push(0, []float64{1, 2, 3})
	close(s.started)
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.release:
		return err
	}
}

func newTestDatasource(t *testing.T) (*Datasource, *ingest.Ingestor) {
	t.Helper()
	in, err := ingest.New(ingest.Config{Channels: 2})
	if err != nil {
		t.Fatalf("failed building ingestor: %v", err)
	}
	return NewDatasource(context.Background(), in), in
}

func TestDatasourceLifecycle(t *testing.T) {
	d, in := newTestDatasource(t)
	if st := d.Snapshot(); st.Mode != ModeNone {
		t.Errorf("expected an idle datasource, got %v", st.Mode)
	}
	src := newScriptedSource()
	d.Start(ModeSimulating, "sim", src)
	<-src.started
	st := d.Snapshot()
	if st.Mode != ModeSimulating || st.Name != "sim" {
		t.Errorf("unexpected status %+v", st)
	}
	if !st.Stats.Connected || st.Stats.PacketCount != 1 {
		t.Errorf("expected a connected stream with one packet, got %+v", st.Stats)
	}
	d.Stop()
	st = d.Snapshot()
	if st.Mode != ModeNone || st.Err != nil {
		t.Errorf("expected a clean idle status after Stop, got %+v", st)
	}
	if in.Connected() {
		t.Errorf("expected the stream to be disconnected after Stop")
	}
}

func TestDatasourceKeepsError(t *testing.T) {
	d, _ := newTestDatasource(t)
	src := newScriptedSource()
	d.Start(ModeStreaming, "ws://example", src)
	<-src.started
	failure := errors.New("link lost")
	src.release <- failure
	d.Wait()
	st := d.Snapshot()
	if !errors.Is(st.Err, failure) {
		t.Errorf("expected the source error to be kept, got %v", st.Err)
	}
	if st.Mode != ModeNone {
		t.Errorf("expected the datasource to go idle, got %v", st.Mode)
	}
}

func TestDatasourceRestart(t *testing.T) {
	d, _ := newTestDatasource(t)
	first := newScriptedSource()
	d.Start(ModeSimulating, "first", first)
	<-first.started
	second := newScriptedSource()
	d.Start(ModeReplaying, "second", second)
	<-second.started
	st := d.Snapshot()
	if st.Mode != ModeReplaying || st.Name != "second" {
		t.Errorf("expected the second source to be running, got %+v", st)
	}
	d.Stop()
}

func TestStatusStream(t *testing.T) {
	d, _ := newTestDatasource(t)
	d.interval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	statuses := d.Status(ctx)
	for i := 0; i < 3; i++ {
		select {
		case <-statuses:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for status %d", i)
		}
	}
	cancel()
	for range statuses {
	}
}

func TestModeString(t *testing.T) {
	for mode, expected := range map[Mode]string{
		ModeNone:       "idle",
		ModeSimulating: "simulating",
		ModeReplaying:  "replaying",
		ModeStreaming:  "streaming",
	} {
		if mode.String() != expected {
			t.Errorf("expected %q, got %q", expected, mode.String())
		}
	}
}
