package main

import (
	"context"
	"fmt"
	"image/png"
	"log"
	"os"
	"time"

	"git.sr.ht/~whereswaldon/spikescope/ingest"
	"git.sr.ht/~whereswaldon/spikescope/render"
	"git.sr.ht/~whereswaldon/spikescope/render/giodev"
)

// snapshot lets the source run for cfg.SnapshotDelay, then renders one frame
// offscreen and writes it to cfg.Snapshot as a PNG.
func snapshot(ctx context.Context, cfg Config, in *ingest.Ingestor) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cfg.SnapshotDelay):
	}
	dev, err := giodev.NewHeadless(cfg.SnapshotSize)
	if err != nil {
		return err
	}
	defer dev.Release()
	r := render.New(dev, render.Config{
		MaxChannels: in.Channels(),
		Width:       float32(cfg.SnapshotSize.X),
		Height:      float32(cfg.SnapshotSize.Y),
		PxPerDp:     1,
	})
	defer r.Dispose()
	if !r.IsReady() {
		return render.ErrNotReady
	}
	for ch := 0; ch < in.Channels(); ch++ {
		red, green, blue := rgb(channelColor(ch))
		r.SetChannelColor(ch, red, green, blue)
	}
	r.SetStackedMode(cfg.Stacked)
	r.SetShowGrid(cfg.Grid)

	f := newFeed(in)
	window := min(cfg.windowSamples(), in.Retention())
	longest := f.load(window, nil)
	vp := rightAligned(longest, window, cfg.Amplitude)
	if err := r.SetViewport(vp.Start, vp.End, vp.YMin, vp.YMax); err != nil {
		return err
	}
	f.apply(r)
	r.Render()
	if err := dev.Flush(); err != nil {
		return fmt.Errorf("failed rendering snapshot: %w", err)
	}
	img, err := dev.Screenshot()
	if err != nil {
		return err
	}
	out, err := os.Create(cfg.Snapshot)
	if err != nil {
		return fmt.Errorf("failed creating snapshot file: %w", err)
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return fmt.Errorf("failed encoding snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed closing snapshot file: %w", err)
	}
	log.Printf("wrote %dx%d snapshot of %d channels to %s", img.Bounds().Dx(), img.Bounds().Dy(), r.ActiveChannelCount(), cfg.Snapshot)
	return nil
}
