// Package render turns per-channel sample windows into line-strip draw calls
// on a GPU Device. A Renderer owns every device resource it creates and
// releases all of them in Dispose.
package render

import (
	"errors"
	"fmt"
	"log"
	"math"

	"git.sr.ht/~whereswaldon/spikescope/decimate"
)

const (
	// MaxChannels is the largest channel count a Renderer will allocate.
	MaxChannels = 64
	// DefaultWidth is the display width used for decimation before the first
	// Resize.
	DefaultWidth = 800
	// gridColumns is the number of vertical grid divisions.
	gridColumns = 10
	// gridRows is the number of horizontal grid divisions in overlaid mode.
	gridRows = 8
)

var ErrNotReady = errors.New("renderer not ready")

var (
	defaultColor = [3]float32{0.8, 0.8, 0.8}
	gridColor    = [3]float32{0.3, 0.3, 0.3}
	unitViewport = Viewport{Start: 0, End: 1, YMin: 0, YMax: 1}
)

// Config sizes a Renderer.
type Config struct {
	// MaxChannels is the number of channel slots allocated up front.
	MaxChannels int
	// Width and Height are the initial logical surface size; PxPerDp is the
	// device pixel density. Zero values fall back to DefaultWidth and a
	// density of one.
	Width, Height float32
	PxPerDp       float32
}

type channel struct {
	// samples is the caller's data; the renderer never writes to it.
	samples []float64
	// offset is the viewport position of samples[0].
	offset int
	active  bool
	color   [3]float32
	index   Buffer
	value   Buffer
	// series is what was last uploaded. When pooled is set it was borrowed
	// from the pool and must be returned before the next decimation.
	series []float64
	pooled bool
	count  int
	dirty  bool
	// xs and ys are staging space for uploads, grown as needed.
	xs, ys []float32
}

// Renderer draws the active channels of a fixed channel set. It must be used
// from a single goroutine.
type Renderer struct {
	dev      Device
	ready    bool
	disposed bool

	gridProgram Program
	waveProgram Program
	programs    []Program
	buffers     []Buffer

	channels []channel
	pool     *decimate.Pool

	gridIndex, gridValue Buffer
	gridCount            int
	gridDirty            bool
	gridXs, gridYs       []float32

	viewport Viewport
	stacked  bool
	showGrid bool

	pxPerDp       float32
	width, height float32
	pxWidth       int
	pxHeight      int

	// per-frame scratch
	order []int
	bands []Band
}

// New builds a Renderer on dev. If dev is nil or any device resource cannot
// be created, the failure is logged and the returned Renderer is permanently
// not ready: every method becomes a no-op.
func New(dev Device, cfg Config) *Renderer {
	r := &Renderer{
		dev:       dev,
		pool:      decimate.NewPool(),
		viewport:  Viewport{Start: 0, End: DefaultWidth, YMin: -1, YMax: 1},
		showGrid:  true,
		gridDirty: true,
		pxPerDp:   1,
		width:     DefaultWidth,
		pxWidth:   DefaultWidth,
	}
	if dev == nil {
		log.Printf("render: no graphics device available")
		return r
	}
	if cfg.MaxChannels < 1 || cfg.MaxChannels > MaxChannels {
		log.Printf("render: channel count %d outside [1, %d]", cfg.MaxChannels, MaxChannels)
		return r
	}
	if err := r.allocate(cfg.MaxChannels); err != nil {
		log.Printf("render: failed allocating device resources: %v", err)
		r.releaseDevice()
		return r
	}
	r.ready = true
	if cfg.Width > 0 && cfg.Height > 0 {
		r.Resize(cfg.Width, cfg.Height, cfg.PxPerDp)
	}
	return r
}

func (r *Renderer) createBuffer() (Buffer, error) {
	b, err := r.dev.CreateBuffer()
	if err != nil {
		return 0, err
	}
	r.buffers = append(r.buffers, b)
	return b, nil
}

func (r *Renderer) allocate(channels int) error {
	var err error
	if r.gridProgram, err = r.dev.CompileProgram(ProgramGrid); err != nil {
		return fmt.Errorf("failed compiling %s program: %w", ProgramGrid, err)
	}
	r.programs = append(r.programs, r.gridProgram)
	if r.waveProgram, err = r.dev.CompileProgram(ProgramWaveform); err != nil {
		return fmt.Errorf("failed compiling %s program: %w", ProgramWaveform, err)
	}
	r.programs = append(r.programs, r.waveProgram)
	if r.gridIndex, err = r.createBuffer(); err != nil {
		return fmt.Errorf("failed creating grid buffer: %w", err)
	}
	if r.gridValue, err = r.createBuffer(); err != nil {
		return fmt.Errorf("failed creating grid buffer: %w", err)
	}
	r.channels = make([]channel, channels)
	for i := range r.channels {
		c := &r.channels[i]
		c.color = defaultColor
		if c.index, err = r.createBuffer(); err != nil {
			return fmt.Errorf("failed creating index buffer for channel %d: %w", i, err)
		}
		if c.value, err = r.createBuffer(); err != nil {
			return fmt.Errorf("failed creating value buffer for channel %d: %w", i, err)
		}
	}
	return nil
}

// releaseDevice frees every handle created so far, in reverse order.
func (r *Renderer) releaseDevice() {
	for i := len(r.buffers) - 1; i >= 0; i-- {
		r.dev.DeleteBuffer(r.buffers[i])
	}
	for i := len(r.programs) - 1; i >= 0; i-- {
		r.dev.DeleteProgram(r.programs[i])
	}
	r.buffers = nil
	r.programs = nil
}

// IsReady reports whether the renderer holds live device resources.
func (r *Renderer) IsReady() bool {
	return r.ready
}

// ActiveChannelCount returns the number of channels holding data.
func (r *Renderer) ActiveChannelCount() int {
	var n int
	for i := range r.channels {
		if r.channels[i].active {
			n++
		}
	}
	return n
}

// Viewport returns the viewport used by the next Render.
func (r *Renderer) Viewport() Viewport {
	return r.viewport
}

// DisplayWidth returns the surface width in device pixels, which bounds every
// uploaded series to twice as many points.
func (r *Renderer) DisplayWidth() int {
	return max(r.pxWidth, 1)
}

// SetData points a channel at a new sample window and uploads it at once.
// The channel is active iff samples is non-empty. The renderer keeps a
// reference to samples until the next SetData for the same channel.
func (r *Renderer) SetData(ch int, samples []float64) {
	r.SetDataAt(ch, 0, samples)
}

// SetDataAt is SetData with samples[0] placed at position offset on the
// viewport axis, so histories of different lengths can share one time base.
func (r *Renderer) SetDataAt(ch, offset int, samples []float64) {
	if !r.ready || ch < 0 || ch >= len(r.channels) {
		return
	}
	c := &r.channels[ch]
	active := len(samples) > 0
	if active != c.active {
		r.gridDirty = true
	}
	c.samples = samples
	c.offset = offset
	c.active = active
	r.upload(c)
}

// SetViewport replaces the viewport applied at the next Render. An invalid
// viewport is rejected and the previous one kept. On a renderer that is not
// ready it does nothing and returns nil.
func (r *Renderer) SetViewport(start, end, yMin, yMax float64) error {
	if !r.ready {
		return nil
	}
	vp := Viewport{Start: start, End: end, YMin: yMin, YMax: yMax}
	if err := vp.Validate(); err != nil {
		return err
	}
	if vp.Start != r.viewport.Start || vp.End != r.viewport.End {
		r.markAllDirty()
	}
	r.viewport = vp
	return nil
}

// SetChannelColor sets a channel's line color; components are clamped to
// [0, 1].
func (r *Renderer) SetChannelColor(ch int, red, green, blue float32) {
	if !r.ready || ch < 0 || ch >= len(r.channels) {
		return
	}
	clamp := func(v float32) float32 {
		return min(max(v, 0), 1)
	}
	r.channels[ch].color = [3]float32{clamp(red), clamp(green), clamp(blue)}
}

// SetStackedMode chooses between disjoint bands and a shared full-height
// band.
func (r *Renderer) SetStackedMode(stacked bool) {
	if !r.ready || stacked == r.stacked {
		return
	}
	r.stacked = stacked
	r.gridDirty = true
}

func (r *Renderer) SetShowGrid(show bool) {
	if !r.ready {
		return
	}
	r.showGrid = show
}

// Resize matches the drawing surface to a logical size at the given pixel
// density. Channel data and the viewport are untouched, though every channel
// is decimated again if the pixel width changed.
func (r *Renderer) Resize(width, height, pxPerDp float32) {
	if !r.ready {
		return
	}
	if pxPerDp <= 0 {
		pxPerDp = 1
	}
	pxWidth := int(math.Round(float64(width * pxPerDp)))
	pxHeight := int(math.Round(float64(height * pxPerDp)))
	if pxWidth < 1 || pxHeight < 1 {
		return
	}
	r.width, r.height, r.pxPerDp = width, height, pxPerDp
	if pxWidth == r.pxWidth && pxHeight == r.pxHeight {
		return
	}
	if err := r.dev.ResizeSurface(pxWidth, pxHeight); err != nil {
		log.Printf("render: failed resizing surface to %dx%d: %v", pxWidth, pxHeight, err)
		return
	}
	if pxWidth != r.pxWidth {
		r.markAllDirty()
	}
	r.pxWidth, r.pxHeight = pxWidth, pxHeight
}

func (r *Renderer) markAllDirty() {
	for i := range r.channels {
		r.channels[i].dirty = true
	}
}

// window clips the viewport's sample range to the channel's data. lo indexes
// samples, not the viewport axis.
func (r *Renderer) window(c *channel) (lo int, samples []float64) {
	n := float64(len(c.samples))
	off := float64(c.offset)
	start := math.Max(math.Floor(r.viewport.Start)-off, 0)
	end := math.Min(math.Ceil(r.viewport.End)-off, n)
	if start >= end {
		return 0, nil
	}
	lo = int(start)
	return lo, c.samples[lo:int(end)]
}

func grow(s []float32, n int) []float32 {
	if cap(s) < n {
		return make([]float32, n)
	}
	return s[:n]
}

// upload decimates a channel's visible window and sends it to the device.
// Any pooled buffer from the previous upload goes back to the pool first, so
// a channel never holds more than one.
func (r *Renderer) upload(c *channel) {
	c.dirty = false
	if c.pooled {
		r.pool.Release(c.series)
		c.pooled = false
	}
	c.series = nil
	c.count = 0
	if !c.active {
		return
	}
	lo, window := r.window(c)
	base := c.offset + lo
	if len(window) == 0 {
		return
	}
	width := r.DisplayWidth()
	if decimate.Decimated(len(window), width) {
		c.series, c.count = decimate.Decimate(window, width, r.pool.Acquire(2*width))
		c.pooled = true
	} else {
		c.series, c.count = window, len(window)
	}
	c.xs = grow(c.xs, c.count)
	c.ys = grow(c.ys, c.count)
	for i, v := range c.series[:c.count] {
		c.ys[i] = float32(v)
		if c.pooled {
			c.xs[i] = float32(float64(base) + decimate.ColumnCenter(i/2, len(window), width))
		} else {
			c.xs[i] = float32(base + i)
		}
	}
	r.dev.UploadBuffer(c.index, c.xs)
	r.dev.UploadBuffer(c.value, c.ys)
}

// rebuildGrid lays out vertical divisions plus either band separators and
// centerlines (stacked) or even horizontal divisions (overlaid). Vertices are
// in unit viewport space.
func (r *Renderer) rebuildGrid(bands []Band) {
	r.gridDirty = false
	xs, ys := r.gridXs[:0], r.gridYs[:0]
	segment := func(x0, y0, x1, y1 float32) {
		// Project flips the value axis; store values so y lands where asked.
		xs = append(xs, x0, x1)
		ys = append(ys, 1-y0, 1-y1)
	}
	for i := 0; i <= gridColumns; i++ {
		x := float32(i) / gridColumns
		segment(x, 0, x, 1)
	}
	if r.stacked && len(bands) > 0 {
		for _, b := range bands {
			segment(0, b.Top, 1, b.Top)
			segment(0, b.Top+b.Height/2, 1, b.Top+b.Height/2)
		}
		segment(0, 1, 1, 1)
	} else {
		for i := 0; i <= gridRows; i++ {
			y := float32(i) / gridRows
			segment(0, y, 1, y)
		}
	}
	r.gridXs, r.gridYs = xs, ys
	r.gridCount = len(xs)
	r.dev.UploadBuffer(r.gridIndex, xs)
	r.dev.UploadBuffer(r.gridValue, ys)
}

// Render draws one frame: the grid first when enabled, then every active
// channel in ascending index order, top to bottom when stacked.
func (r *Renderer) Render() {
	if !r.ready {
		return
	}
	r.order = r.order[:0]
	for i := range r.channels {
		if r.channels[i].active {
			r.order = append(r.order, i)
		}
	}
	r.bands = Bands(r.bands[:0], len(r.order), r.stacked)

	r.dev.BeginFrame()
	if r.showGrid {
		if r.gridDirty {
			r.rebuildGrid(r.bands)
		}
		r.dev.DrawLines(r.gridProgram, r.gridIndex, r.gridValue, r.gridCount, Uniforms{
			Viewport: unitViewport,
			Band:     fullBand,
			Color:    gridColor,
		})
	}
	for k, ch := range r.order {
		c := &r.channels[ch]
		if c.dirty {
			r.upload(c)
		}
		if c.count == 0 {
			continue
		}
		r.dev.DrawLineStrip(r.waveProgram, c.index, c.value, c.count, Uniforms{
			Viewport: r.viewport,
			Band:     r.bands[k],
			Color:    c.color,
		})
	}
}

// Dispose releases every device resource and pooled buffer. The renderer is
// unusable afterward; further calls, including Dispose, do nothing.
func (r *Renderer) Dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	for i := range r.channels {
		c := &r.channels[i]
		if c.pooled {
			r.pool.Release(c.series)
			c.pooled = false
		}
		c.series = nil
		c.samples = nil
		c.active = false
	}
	r.pool.Drain()
	if r.ready {
		r.releaseDevice()
	}
	r.ready = false
}
