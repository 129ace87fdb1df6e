package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gioui.org/x/explorer"
	"git.sr.ht/~whereswaldon/spikescope/ingest"
	"git.sr.ht/~whereswaldon/spikescope/source"
)

// StatusInterval is how often Status streams publish.
const StatusInterval = 250 * time.Millisecond

type RWBox[T any] struct {
	t    T
	lock sync.RWMutex
}

func (r *RWBox[T]) Read(f func(*T)) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	f(&r.t)
}

func (r *RWBox[T]) Write(f func(*T)) {
	r.lock.Lock()
	defer r.lock.Unlock()
	f(&r.t)
}

type Mode uint8

const (
	ModeNone Mode = iota
	ModeSimulating
	ModeReplaying
	ModeStreaming
)

func (m Mode) String() string {
	switch m {
	case ModeSimulating:
		return "simulating"
	case ModeReplaying:
		return "replaying"
	case ModeStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

// Status is a snapshot of the running source and the stream's health.
type Status struct {
	Mode Mode
	// Name describes the source, such as a file path or URL.
	Name  string
	Stats ingest.Stats
	Err   error
}

type session struct {
	mode   Mode
	name   string
	err    error
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Datasource runs at most one source at a time, feeding the shared ingestor.
type Datasource struct {
	appCtx   context.Context
	ingest   *ingest.Ingestor
	session  RWBox[session]
	interval time.Duration
}

func NewDatasource(appCtx context.Context, in *ingest.Ingestor) *Datasource {
	return &Datasource{
		appCtx:   appCtx,
		ingest:   in,
		interval: StatusInterval,
	}
}

// Start stops any running source and runs src in the background. When src
// returns, the datasource goes idle, keeping any error for Status.
func (d *Datasource) Start(mode Mode, name string, src source.Source) {
	d.Stop()
	ctx, cancel := context.WithCancel(d.appCtx)
	done := make(chan struct{})
	var gen uint64
	d.session.Write(func(s *session) {
		s.gen++
		gen = s.gen
		*s = session{mode: mode, name: name, gen: gen, cancel: cancel, done: done}
	})
	log.Printf("starting %s source %q", mode, name)
	go func() {
		defer close(done)
		err := src.Run(ctx, d.ingest)
		if c, ok := src.(interface{ Close() error }); ok {
			err = errors.Join(err, c.Close())
		}
		if err != nil {
			log.Printf("%s source %q failed: %v", mode, name, err)
		}
		d.session.Write(func(s *session) {
			if s.gen != gen {
				return
			}
			s.mode = ModeNone
			s.err = err
			s.cancel = nil
		})
		cancel()
	}()
}

// Stop cancels the running source, if any, and waits for it to return.
func (d *Datasource) Stop() {
	var cancel context.CancelFunc
	var done chan struct{}
	d.session.Read(func(s *session) {
		cancel, done = s.cancel, s.done
	})
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the running source, if any, has returned.
func (d *Datasource) Wait() {
	var done chan struct{}
	d.session.Read(func(s *session) {
		done = s.done
	})
	if done != nil {
		<-done
	}
}

// Snapshot returns the current status.
func (d *Datasource) Snapshot() Status {
	var st Status
	d.session.Read(func(s *session) {
		st = Status{Mode: s.mode, Name: s.name, Err: s.err}
	})
	st.Stats = d.ingest.Stats()
	return st
}

// Status publishes a snapshot immediately and then at a fixed interval until
// ctx is done.
func (d *Datasource) Status(ctx context.Context) <-chan Status {
	out := make(chan Status, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case out <- d.Snapshot():
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// LoadFromFile asks the user for a recording and replays it. It blocks until
// the file dialog closes, so callers run it off the UI goroutine.
func (d *Datasource) LoadFromFile(expl *explorer.Explorer, rate float64) error {
	file, err := expl.ChooseFile(".csv")
	if err != nil {
		return fmt.Errorf("failed choosing recording: %w", err)
	}
	name := "recording"
	if f, ok := file.(interface{ Name() string }); ok {
		name = f.Name()
	}
	src := source.NewCSV(file)
	src.Rate = rate
	d.Start(ModeReplaying, name, src)
	return nil
}
