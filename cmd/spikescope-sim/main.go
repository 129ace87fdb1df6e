package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"git.sr.ht/~whereswaldon/spikescope/source"
	"golang.org/x/term"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `%[1]s: synthesize a multi-channel recording
Usage:

 %[1]s > recording.csv

OR

 %[1]s | spikescope -source -

OR

 %[1]s -serve :8080 &
 spikescope -source ws://localhost:8080/stream

`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	cfg := source.DefaultSimConfig(8)
	flag.IntVar(&cfg.Channels, "channels", cfg.Channels, "number of channels")
	flag.Float64Var(&cfg.SampleRate, "rate", cfg.SampleRate, "per-channel sample rate in Hz")
	flag.DurationVar(&cfg.Tick, "tick", cfg.Tick, "interval between batches")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	flag.Float64Var(&cfg.SpikeRate, "spike-rate", cfg.SpikeRate, "mean spikes per second per channel")
	outputName := flag.String("output", "-", "output file for CSV samples")
	force := flag.Bool("force", false, "write CSV to a terminal anyway")
	serveAddr := flag.String("serve", "", "serve samples over websocket at this address instead of writing CSV")
	flag.Parse()

	sim, err := source.NewSimulator(cfg)
	if err != nil {
		log.Fatalf("failed building simulator: %v", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *serveAddr != "" {
		if err := serve(ctx, *serveAddr, sim, cfg.Tick); err != nil {
			log.Fatal(err)
		}
		return
	}

	var output io.WriteCloser
	if *outputName == "-" {
		if term.IsTerminal(int(os.Stdout.Fd())) && !*force {
			log.Fatalf("refusing to write samples to a terminal; redirect stdout or pass -force")
		}
		output = os.Stdout
	} else {
		f, err := os.Create(*outputName)
		if err != nil {
			log.Fatalf("failed opening output file %q: %v", *outputName, err)
		}
		output = f
	}
	if err := record(ctx, output, sim, cfg); err != nil {
		log.Printf("%v", err)
	}
	if err := output.Close(); err != nil {
		log.Printf("failed closing output: %v", err)
	}
}

// record writes one block per tick until ctx is done.
func record(ctx context.Context, output io.Writer, sim *source.Simulator, cfg source.SimConfig) error {
	buffered := bufio.NewWriter(output)
	w := source.NewCSVWriter(buffered, cfg.Channels)
	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.Join(w.Flush(), buffered.Flush())
		case <-ticker.C:
			if err := w.WriteBlock(sim.Next()); err != nil {
				return err
			}
			// Flush whole blocks so readers following the output see
			// complete rows promptly.
			if err := errors.Join(w.Flush(), buffered.Flush()); err != nil {
				return fmt.Errorf("failed flushing output: %w", err)
			}
		}
	}
}

func serve(ctx context.Context, addr string, sim *source.Simulator, tick time.Duration) error {
	hub := source.NewHub()
	go hub.Run(ctx)
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", hub.HandleWebSocket)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Printf("failed shutting down: %v", err)
				}
				return
			case <-ticker.C:
				hub.Publish(sim.Next())
			}
		}
	}()
	log.Printf("serving samples on ws://%s/stream", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed serving: %w", err)
	}
	return nil
}
