package main

import (
	"fmt"
	"image"
	"log"
	"math"
	"strconv"
	"time"

	"gioui.org/gesture"
	"gioui.org/layout"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"gioui.org/text"
	"gioui.org/widget"
	"gioui.org/widget/material"
	"gioui.org/x/component"
	"git.sr.ht/~whereswaldon/spikescope/ingest"
	"git.sr.ht/~whereswaldon/spikescope/metrics"
	"git.sr.ht/~whereswaldon/spikescope/render"
	"git.sr.ht/~whereswaldon/spikescope/render/giodev"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/shiny/materialdesign/icons"
)

var pauseIcon = func() *widget.Icon {
	icon, _ := widget.NewIcon(icons.AVPause)
	return icon
}()

var playIcon = func() *widget.Icon {
	icon, _ := widget.NewIcon(icons.AVPlayArrow)
	return icon
}()

// minWindow is the narrowest zoom, in samples.
const minWindow = 16

func ceil[T constraints.Integer | constraints.Float](a T) T {
	return T(math.Ceil(float64(a)))
}

func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

// feed copies each channel's newest history out of the ingestor into slices
// that are reused from frame to frame.
type feed struct {
	in      *ingest.Ingestor
	scratch [][]float64
	longest int
}

func newFeed(in *ingest.Ingestor) *feed {
	return &feed{
		in:      in,
		scratch: make([][]float64, in.Channels()),
	}
}

// load fetches up to count samples for every channel enabled reports true for
// and returns the longest history fetched. A nil enabled loads every channel.
func (f *feed) load(count int, enabled func(ch int) bool) int {
	f.longest = 0
	for ch := range f.scratch {
		f.scratch[ch] = f.scratch[ch][:0]
		if enabled != nil && !enabled(ch) {
			continue
		}
		f.scratch[ch] = f.in.AppendLatest(f.scratch[ch], ch, count)
		f.longest = max(f.longest, len(f.scratch[ch]))
	}
	return f.longest
}

// apply hands the last loaded histories to r, each shifted so that its newest
// sample lines up with the newest sample of the longest one. The slices are
// not touched again until the next load.
func (f *feed) apply(r *render.Renderer) {
	for ch, samples := range f.scratch {
		r.SetDataAt(ch, f.longest-len(samples), samples)
	}
}

// rightAligned shows the last window samples of a history of the given length,
// with the newest sample on the right edge.
func rightAligned(longest, window int, amplitude float64) render.Viewport {
	return render.Viewport{
		Start: float64(longest - window),
		End:   float64(longest),
		YMin:  -amplitude,
		YMax:  amplitude,
	}
}

// Scope is a live multi-channel trace display.
type Scope struct {
	in        *ingest.Ingestor
	dev       *giodev.Device
	r         *render.Renderer
	feed      *feed
	frames    *metrics.FrameTimer
	collector *metrics.Collector

	Stacked  widget.Bool
	Grid     widget.Bool
	Enabled  []*widget.Bool
	shown    []bool
	zoom     gesture.Scroll
	amp      gesture.Scroll
	paused   bool
	pauseBtn widget.Clickable
	keyTable component.GridState

	// window is the visible span in samples; amplitude is the half-height
	// of each band in sample units.
	window    int
	amplitude float64
	// newest is the absolute index one past the last displayed sample.
	newest uint64
}

// NewScope builds a scope over in. collector may be nil.
func NewScope(in *ingest.Ingestor, cfg Config, frames *metrics.FrameTimer, collector *metrics.Collector) *Scope {
	dev := giodev.NewWindow()
	s := &Scope{
		in:        in,
		dev:       dev,
		r:         render.New(dev, render.Config{MaxChannels: in.Channels()}),
		feed:      newFeed(in),
		frames:    frames,
		collector: collector,
		Stacked:   widget.Bool{Value: cfg.Stacked},
		Grid:      widget.Bool{Value: cfg.Grid},
		window:    clamp(cfg.windowSamples(), minWindow, in.Retention()),
		amplitude: cfg.Amplitude,
	}
	for ch := 0; ch < in.Channels(); ch++ {
		s.Enabled = append(s.Enabled, &widget.Bool{Value: true})
		s.shown = append(s.shown, true)
		red, green, blue := rgb(channelColor(ch))
		s.r.SetChannelColor(ch, red, green, blue)
	}
	return s
}

func (s *Scope) enabled(ch int) bool {
	return s.Enabled[ch].Value
}

// Dispose releases the renderer's device resources.
func (s *Scope) Dispose() {
	s.r.Dispose()
}

func (s *Scope) Update(gtx C) {
	if s.pauseBtn.Clicked(gtx) {
		s.paused = !s.paused
		if s.paused {
			// Take the whole history so the paused view can be zoomed out.
			s.feed.load(s.in.Retention(), s.enabled)
			s.present()
		}
	}
	// The checkboxes may have consumed their clicks earlier in the frame, so
	// mirror their values rather than waiting for a change event.
	s.r.SetStackedMode(s.Stacked.Value)
	s.r.SetShowGrid(s.Grid.Value)
	var toggled bool
	for ch, e := range s.Enabled {
		e.Update(gtx)
		if e.Value != s.shown[ch] {
			s.shown[ch] = e.Value
			toggled = true
		}
	}
	if toggled && s.paused {
		s.feed.load(s.in.Retention(), s.enabled)
		s.present()
	}
	if dist := s.zoom.Update(gtx.Metric, gtx.Source, gtx.Now, gesture.Vertical, image.Rect(0, -1e6, 0, 1e6)); dist != 0 {
		proportion := 1 + float64(dist)/float64(max(gtx.Constraints.Max.Y, 1))
		s.window = clamp(int(ceil(float64(s.window)*proportion)), minWindow, s.in.Retention())
	}
	if dist := s.amp.Update(gtx.Metric, gtx.Source, gtx.Now, gesture.Horizontal, image.Rect(-1e6, 0, 1e6, 0)); dist != 0 {
		proportion := 1 + float64(dist)/float64(max(gtx.Constraints.Max.X, 1))
		s.amplitude = clamp(s.amplitude*proportion, 1e-6, 1e9)
	}
}

// present sets the viewport for the loaded histories and uploads them. The
// viewport goes first so each channel is decimated only once.
func (s *Scope) present() {
	vp := rightAligned(s.feed.longest, s.window, s.amplitude)
	if err := s.r.SetViewport(vp.Start, vp.End, vp.YMin, vp.YMax); err != nil {
		log.Printf("failed setting viewport: %v", err)
	}
	s.feed.apply(s.r)
}

func (s *Scope) layoutPlot(gtx C, th *material.Theme) D {
	size := gtx.Constraints.Max
	if !s.r.IsReady() {
		return layout.Center.Layout(gtx, material.Body1(th, "Graphics unavailable.").Layout)
	}
	start := time.Now()
	if !s.paused {
		s.feed.load(s.window, s.enabled)
		s.newest = 0
		for ch := range s.Enabled {
			s.newest = max(s.newest, s.in.Total(ch))
		}
	}
	s.r.Resize(float32(gtx.Metric.PxToDp(size.X)), float32(gtx.Metric.PxToDp(size.Y)), gtx.Metric.PxPerDp)
	s.present()

	defer clip.Rect{Max: size}.Push(gtx.Ops).Pop()
	s.zoom.Add(gtx.Ops)
	s.amp.Add(gtx.Ops)
	s.dev.SetOps(gtx.Ops)
	s.dev.SetDensity(gtx.Metric.PxPerDp)
	s.r.Render()

	elapsed := time.Since(start)
	s.frames.Record(elapsed)
	if s.collector != nil {
		s.collector.ObserveFrame(elapsed)
	}
	if !s.paused {
		gtx.Execute(op.InvalidateCmd{})
	}
	return D{Size: size}
}

func (s *Scope) Layout(gtx C, th *material.Theme) D {
	s.Update(gtx)
	origConstraints := gtx.Constraints
	gtx.Constraints.Min = image.Point{}

	// Reserve a gutter as tall as one line of text for labels.
	label := material.Body2(th, "0")
	macro := op.Record(gtx.Ops)
	labelDims := label.Layout(gtx)
	_ = macro.Stop()
	gutter := labelDims.Size.Y * 2

	macro = op.Record(gtx.Ops)
	gtx.Constraints.Min.X = gtx.Constraints.Max.X
	gtx.Constraints.Max.Y = min(gtx.Constraints.Max.Y/3, gtx.Sp(20)*(len(s.Enabled)+1))
	keyDims := s.layoutKey(gtx, th)
	keyCall := macro.Stop()
	gtx.Constraints = origConstraints

	spanSecs := float64(s.window) / s.in.SampleRate()
	endSecs := float64(s.newest) / s.in.SampleRate()
	timeLabel := material.Body2(th, fmt.Sprintf("%.3f s across, %d samples, ending at %.3f s", spanSecs, s.window, endSecs))
	timeLabel.Alignment = text.Middle
	timeLabel.MaxLines = 1
	ampLabel := material.Body2(th, "±"+strconv.FormatFloat(s.amplitude, 'g', 4, 64))
	ampLabel.MaxLines = 1

	return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
		layout.Flexed(1, func(gtx C) D {
			return layout.Flex{}.Layout(gtx,
				layout.Rigid(func(gtx C) D {
					return layout.Flex{Axis: layout.Vertical, Spacing: layout.SpaceBetween}.Layout(gtx,
						layout.Rigid(func(gtx C) D {
							gtx.Constraints.Min = image.Point{}
							gtx.Constraints.Max.X = gutter * 2
							return ampLabel.Layout(gtx)
						}),
						layout.Rigid(func(gtx C) D {
							gtx.Constraints = layout.Exact(image.Pt(gutter*2, gutter))
							icon := pauseIcon
							if s.paused {
								icon = playIcon
							}
							return material.Clickable(gtx, &s.pauseBtn, func(gtx C) D {
								return layout.Center.Layout(gtx, func(gtx C) D {
									return icon.Layout(gtx, th.Fg)
								})
							})
						}),
					)
				}),
				layout.Flexed(1, func(gtx C) D {
					return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
						layout.Flexed(1, func(gtx C) D {
							return s.layoutPlot(gtx, th)
						}),
						layout.Rigid(timeLabel.Layout),
					)
				}),
			)
		}),
		layout.Rigid(func(gtx C) D {
			keyCall.Add(gtx.Ops)
			return keyDims
		}),
	)
}

func (s *Scope) channelName(ch int) string {
	if site, ok := s.in.Site(ch); ok {
		return fmt.Sprintf("ch %d (site %d)", ch, site)
	}
	return "ch " + strconv.Itoa(ch)
}

func (s *Scope) layoutKey(gtx C, th *material.Theme) D {
	table := component.Table(th, &s.keyTable)
	table.HScrollbarStyle.Indicator.MinorWidth = 0
	table.HScrollbarStyle.Track.MinorPadding = 0
	colorColWidth := gtx.Dp(50)
	countColWidth := gtx.Dp(120)
	nameColWidth := gtx.Constraints.Max.X - colorColWidth - 2*countColWidth - gtx.Dp(table.VScrollbarStyle.Width())
	rowHeight := gtx.Sp(20)
	const (
		colorCol = iota
		nameCol
		retainedCol
		totalCol
		numCols
	)
	return table.Layout(gtx, len(s.Enabled), numCols,
		func(axis layout.Axis, index, constraint int) int {
			if axis == layout.Vertical {
				return min(constraint, rowHeight)
			}
			var size int
			switch index {
			case colorCol:
				size = colorColWidth
			case nameCol:
				size = nameColWidth
			case retainedCol, totalCol:
				size = countColWidth
			}
			return min(max(size, 0), constraint)
		},
		func(gtx C, index int) D {
			var l material.LabelStyle
			switch index {
			case colorCol:
				l = material.Body1(th, "Show")
			case nameCol:
				l = material.Body1(th, "Channel")
				l.Alignment = text.Middle
			case retainedCol:
				l = material.Body1(th, "Held")
				l.Alignment = text.End
			case totalCol:
				l = material.Body1(th, "Received")
				l.Alignment = text.End
			}
			l.Color = th.ContrastFg
			return layout.Background{}.Layout(gtx,
				func(gtx C) D {
					paint.FillShape(gtx.Ops, th.ContrastBg, clip.Rect{Max: gtx.Constraints.Max}.Op())
					return D{Size: gtx.Constraints.Min}
				}, l.Layout,
			)
		},
		func(gtx C, row, col int) (dims D) {
			defer func() {
				dims.Size = gtx.Constraints.Constrain(dims.Size)
			}()
			enabled := s.Enabled[row].Value
			disabledAlpha := uint8(100)
			dims = layout.UniformInset(2).Layout(gtx, func(gtx C) D {
				var l material.LabelStyle
				switch col {
				case colorCol:
					return s.Enabled[row].Layout(gtx, func(gtx C) D {
						return layout.Center.Layout(gtx, func(gtx C) D {
							sideLen := gtx.Dp(10)
							sz := image.Pt(sideLen, sideLen)
							fullColor := channelColor(row)
							if !enabled {
								fullColor.A = disabledAlpha
							}
							paint.FillShape(gtx.Ops, fullColor, clip.Rect{Max: sz}.Op())
							return D{Size: sz}
						})
					})
				case nameCol:
					l = material.Body2(th, s.channelName(row))
				case retainedCol:
					l = material.Body2(th, strconv.Itoa(s.in.Retained(row)))
					l.Alignment = text.End
				case totalCol:
					l = material.Body2(th, strconv.FormatUint(s.in.Total(row), 10))
					l.Alignment = text.End
				default:
					return D{Size: gtx.Constraints.Max}
				}
				if !enabled {
					l.Color.A = disabledAlpha
				}
				return l.Layout(gtx)
			})
			if row&1 != 0 {
				c := channelColor(row)
				c.A = 50
				paint.FillShape(gtx.Ops, c, clip.Rect{Max: gtx.Constraints.Max}.Op())
			}
			return dims
		})
}
