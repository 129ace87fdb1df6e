package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"

	"gioui.org/app"
	"gioui.org/io/system"
	"gioui.org/op"
	"gioui.org/x/explorer"
	"git.sr.ht/~whereswaldon/spikescope/backend"
	"git.sr.ht/~whereswaldon/spikescope/ingest"
	"git.sr.ht/~whereswaldon/spikescope/metrics"
	"git.sr.ht/~whereswaldon/spikescope/source"
	"github.com/prometheus/client_golang/prometheus"
)

func newSimulator(cfg Config) (*source.Simulator, error) {
	simCfg := source.DefaultSimConfig(cfg.Channels)
	simCfg.SampleRate = cfg.SampleRate
	simCfg.Seed = cfg.Seed
	return source.NewSimulator(simCfg)
}

// newSource picks a source from cfg.Source.
func newSource(cfg Config) (backend.Mode, source.Source, error) {
	switch s := cfg.Source; {
	case s == sourceSimulator:
		sim, err := newSimulator(cfg)
		return backend.ModeSimulating, sim, err
	case s == sourceStdin:
		src := source.NewCSV(os.Stdin)
		src.Rate = cfg.ReplayRate
		return backend.ModeReplaying, src, nil
	case strings.HasPrefix(s, "ws://"), strings.HasPrefix(s, "wss://"):
		return backend.ModeStreaming, source.NewWebSocket(s), nil
	default:
		src, err := source.OpenCSV(s)
		if err != nil {
			return backend.ModeNone, nil, err
		}
		src.Rate = cfg.ReplayRate
		return backend.ModeReplaying, src, nil
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	} else if err != nil {
		log.Fatalf("failed parsing flags: %v", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	in, err := ingest.New(cfg.ingestConfig())
	if err != nil {
		log.Fatalf("failed building ingestor: %v", err)
	}
	frames := metrics.NewFrameTimer()
	collector := metrics.NewCollector(in)
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if err := collector.Register(reg); err != nil {
			log.Fatalf("failed registering metrics: %v", err)
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg); err != nil {
				log.Printf("%v", err)
			}
		}()
	}

	bundle := backend.NewBundle(ctx, in)
	mode, src, err := newSource(cfg)
	if err != nil {
		log.Fatalf("failed preparing source: %v", err)
	}
	bundle.Datasource.Start(mode, cfg.Source, src)

	if cfg.Snapshot != "" {
		err := snapshot(ctx, cfg, in)
		bundle.Datasource.Stop()
		if err != nil {
			log.Fatalf("failed taking snapshot: %v", err)
		}
		return
	}

	go func() {
		w := app.NewWindow(app.Title("spikescope"))
		if err := loop(ctx, w, bundle, cfg, frames, collector); err != nil {
			log.Fatal(err)
		}
		bundle.Datasource.Stop()
		os.Exit(0)
	}()
	app.Main()
}

func loop(ctx context.Context, w *app.Window, bundle backend.Bundle, cfg Config, frames *metrics.FrameTimer, collector *metrics.Collector) error {
	expl := explorer.NewExplorer(w)
	ws := backend.NewWindowState(ctx, bundle, w)
	ui := NewUI(ws, expl, cfg, frames, collector)
	defer ui.scope.Dispose()
	go func() {
		<-ctx.Done()
		w.Perform(system.ActionClose)
	}()
	var ops op.Ops
	for {
		ev := w.NextEvent()
		expl.ListenEvents(ev)
		switch ev := ev.(type) {
		case app.DestroyEvent:
			return ev.Err
		case app.FrameEvent:
			gtx := app.NewContext(&ops, ev)
			ui.Layout(gtx)
			ev.Frame(gtx.Ops)
		}
	}
}
