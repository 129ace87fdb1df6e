package main

import (
	"fmt"
	"image"
	"image/color"
	"log"
	"strings"

	"gioui.org/font/gofont"
	"gioui.org/layout"
	"gioui.org/text"
	"gioui.org/widget"
	"gioui.org/widget/material"
	"gioui.org/x/explorer"
	"git.sr.ht/~gioverse/skel/stream"
	"git.sr.ht/~whereswaldon/spikescope/backend"
	"git.sr.ht/~whereswaldon/spikescope/metrics"
)

type (
	C = layout.Context
	D = layout.Dimensions
)

// UI is responsible for holding the state of and drawing the top-level UI.
type UI struct {
	ws     backend.WindowState
	expl   *explorer.Explorer
	cfg    Config
	frames *metrics.FrameTimer

	scope   *Scope
	simBtn  widget.Clickable
	openBtn widget.Clickable
	stopBtn widget.Clickable

	th           *material.Theme
	statusStream *stream.Stream[backend.Status]
	status       backend.Status
}

func NewUI(ws backend.WindowState, expl *explorer.Explorer, cfg Config, frames *metrics.FrameTimer, collector *metrics.Collector) *UI {
	th := material.NewTheme()
	th.Shaper = text.NewShaper(text.WithCollection(gofont.Collection()), text.NoSystemFonts())
	return &UI{
		ws:           ws,
		expl:         expl,
		cfg:          cfg,
		frames:       frames,
		th:           th,
		scope:        NewScope(ws.Bundle.Ingest, cfg, frames, collector),
		statusStream: stream.New(ws.Controller, ws.Bundle.Datasource.Status),
	}
}

// Update the state of the UI and act on button presses.
func (ui *UI) Update(gtx C) {
	ui.statusStream.ReadInto(gtx, &ui.status, backend.Status{})
	ds := ui.ws.Bundle.Datasource
	if ui.simBtn.Clicked(gtx) {
		sim, err := newSimulator(ui.cfg)
		if err != nil {
			log.Printf("failed building simulator: %v", err)
		} else {
			go ds.Start(backend.ModeSimulating, "simulator", sim)
		}
	}
	if ui.openBtn.Clicked(gtx) {
		go func() {
			if err := ds.LoadFromFile(ui.expl, ui.cfg.ReplayRate); err != nil {
				log.Printf("failed loading recording: %v", err)
			}
		}()
	}
	if ui.stopBtn.Clicked(gtx) {
		go ds.Stop()
	}
}

// statusText summarizes the stream's health and the renderer's cost.
func statusText(st backend.Status, frames *metrics.FrameTimer) string {
	var b strings.Builder
	b.WriteString(st.Mode.String())
	if st.Name != "" {
		fmt.Fprintf(&b, " %s", st.Name)
	}
	link := "disconnected"
	if st.Stats.Connected {
		link = "connected"
	}
	fmt.Fprintf(&b, " | %s | buffer %.0f%% | %.0f samples/s | %d packets | %d dropped | %d channels",
		link,
		st.Stats.BufferFill*100,
		st.Stats.DataRate,
		st.Stats.PacketCount,
		st.Stats.DroppedPackets,
		st.Stats.ActiveChannels,
	)
	if frames != nil && frames.Count() > 0 {
		fmt.Fprintf(&b, " | frame p50 %v p99 %v", frames.Quantile(.5), frames.Quantile(.99))
	}
	return b.String()
}

func (ui *UI) layoutControls(gtx C) D {
	button := func(w *widget.Clickable, label string) layout.FlexChild {
		return layout.Rigid(func(gtx C) D {
			return layout.UniformInset(4).Layout(gtx, material.Button(ui.th, w, label).Layout)
		})
	}
	check := func(b *widget.Bool, label string) layout.FlexChild {
		return layout.Rigid(func(gtx C) D {
			return layout.UniformInset(4).Layout(gtx, material.CheckBox(ui.th, b, label).Layout)
		})
	}
	return layout.Flex{Alignment: layout.Middle}.Layout(gtx,
		button(&ui.simBtn, "Simulate"),
		button(&ui.openBtn, "Open Recording"),
		button(&ui.stopBtn, "Stop"),
		check(&ui.scope.Stacked, "Stacked"),
		check(&ui.scope.Grid, "Grid"),
	)
}

// Layout the UI into the provided context.
func (ui *UI) Layout(gtx C) D {
	ui.Update(gtx)
	return layout.Flex{
		Axis: layout.Vertical,
	}.Layout(gtx,
		layout.Rigid(ui.layoutControls),
		layout.Rigid(func(gtx C) D {
			gtx.Constraints.Min = image.Point{}
			l := material.Body2(ui.th, statusText(ui.status, ui.frames))
			l.MaxLines = 1
			return layout.UniformInset(4).Layout(gtx, l.Layout)
		}),
		layout.Rigid(func(gtx C) D {
			if ui.status.Err == nil {
				return D{}
			}
			l := material.Body1(ui.th, ui.status.Err.Error())
			l.Color = color.NRGBA{R: 150, A: 255}
			return l.Layout(gtx)
		}),
		layout.Flexed(1, func(gtx C) D {
			return ui.scope.Layout(gtx, ui.th)
		}),
	)
}
