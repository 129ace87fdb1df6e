// Package giodev implements render.Device on top of Gio. Line strips are
// recorded as stroked clip paths into an op list, which Gio's GPU backend
// rasterizes either into a window or into an offscreen headless texture.
package giodev

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gioui.org/f32"
	"gioui.org/gpu/headless"
	"gioui.org/op"
	"gioui.org/op/clip"
	"gioui.org/op/paint"
	"git.sr.ht/~whereswaldon/spikescope/render"
)

var (
	ErrUnknownProgram = errors.New("unknown program kind")
	ErrNotHeadless    = errors.New("device has no offscreen target")
)

// Background is painted at the start of every frame.
var Background = color.NRGBA{R: 0x10, G: 0x12, B: 0x16, A: 0xff}

type program struct {
	kind  render.ProgramKind
	width float32
	alpha uint8
}

// Device records draw calls into a Gio op list.
type Device struct {
	ops      *op.Ops
	size     image.Point
	pxPerDp  float32
	programs map[render.Program]program
	buffers  map[render.Buffer][]float32
	next     uint32
	// strokes counts stroked paths recorded since the device was created.
	strokes int

	// Headless devices own their op list and target texture.
	tex *headless.Texture
	own op.Ops
}

func newDevice() *Device {
	return &Device{
		pxPerDp:  1,
		programs: make(map[render.Program]program),
		buffers:  make(map[render.Buffer][]float32),
	}
}

// NewWindow returns a device that draws into whichever op list was last
// passed to SetOps, normally the one of the window frame being laid out.
func NewWindow() *Device {
	return newDevice()
}

// NewHeadless returns a device that renders into an offscreen texture of the
// given size. It fails when no GPU context can be created.
func NewHeadless(size image.Point) (*Device, error) {
	tex, err := headless.NewTexture(size)
	if err != nil {
		return nil, fmt.Errorf("failed acquiring headless graphics context: %w", err)
	}
	d := newDevice()
	d.tex = tex
	d.size = size
	d.ops = &d.own
	return d, nil
}

// SetOps selects the op list the next frame is recorded into.
func (d *Device) SetOps(ops *op.Ops) {
	d.ops = ops
}

// SetDensity sets the pixels per Dp used to size line strokes.
func (d *Device) SetDensity(pxPerDp float32) {
	if pxPerDp > 0 {
		d.pxPerDp = pxPerDp
	}
}

func (d *Device) CompileProgram(kind render.ProgramKind) (render.Program, error) {
	var p program
	switch kind {
	case render.ProgramGrid:
		p = program{kind: kind, width: 1, alpha: 0xff}
	case render.ProgramWaveform:
		p = program{kind: kind, width: 1.25, alpha: 0xe0}
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownProgram, kind)
	}
	d.next++
	d.programs[render.Program(d.next)] = p
	return render.Program(d.next), nil
}

func (d *Device) DeleteProgram(p render.Program) {
	delete(d.programs, p)
}

func (d *Device) CreateBuffer() (render.Buffer, error) {
	d.next++
	d.buffers[render.Buffer(d.next)] = nil
	return render.Buffer(d.next), nil
}

func (d *Device) UploadBuffer(b render.Buffer, data []float32) {
	buf, ok := d.buffers[b]
	if !ok {
		return
	}
	d.buffers[b] = append(buf[:0], data...)
}

func (d *Device) DeleteBuffer(b render.Buffer) {
	delete(d.buffers, b)
}

// ResizeSurface records the target size; headless devices reallocate their
// texture when it changes.
func (d *Device) ResizeSurface(width, height int) error {
	size := image.Pt(width, height)
	if size == d.size {
		return nil
	}
	if d.tex != nil {
		tex, err := headless.NewTexture(size)
		if err != nil {
			return fmt.Errorf("failed reallocating headless texture: %w", err)
		}
		d.tex.Release()
		d.tex = tex
	}
	d.size = size
	return nil
}

func (d *Device) BeginFrame() {
	if d.tex != nil {
		d.own.Reset()
	}
	if d.ops == nil {
		return
	}
	paint.FillShape(d.ops, Background, clip.Rect{Max: d.size}.Op())
}

func (d *Device) toColor(p program, c [3]float32) color.NRGBA {
	return color.NRGBA{
		R: uint8(c[0]*255 + .5),
		G: uint8(c[1]*255 + .5),
		B: uint8(c[2]*255 + .5),
		A: p.alpha,
	}
}

func (d *Device) vertices(index, value render.Buffer, count int) (xs, ys []float32, ok bool) {
	xs, okX := d.buffers[index]
	ys, okY := d.buffers[value]
	if !okX || !okY {
		return nil, nil, false
	}
	count = min(count, len(xs), len(ys))
	return xs[:count], ys[:count], count > 0
}

func (d *Device) point(u render.Uniforms, x, y float32) f32.Point {
	nx, ny := u.Project(x, y)
	return f32.Pt(nx*float32(d.size.X), ny*float32(d.size.Y))
}

func (d *Device) stroke(p program, path clip.PathSpec, c [3]float32) {
	d.strokes++
	paint.FillShape(d.ops, d.toColor(p, c), clip.Stroke{
		Path:  path,
		Width: p.width * d.pxPerDp,
	}.Op())
}

func (d *Device) DrawLineStrip(prog render.Program, index, value render.Buffer, count int, u render.Uniforms) {
	p, ok := d.programs[prog]
	if !ok || d.ops == nil {
		return
	}
	xs, ys, ok := d.vertices(index, value, count)
	if !ok {
		return
	}
	var path clip.Path
	path.Begin(d.ops)
	path.MoveTo(d.point(u, xs[0], ys[0]))
	for i := 1; i < len(xs); i++ {
		path.LineTo(d.point(u, xs[i], ys[i]))
	}
	d.stroke(p, path.End(), u.Color)
}

func (d *Device) DrawLines(prog render.Program, index, value render.Buffer, count int, u render.Uniforms) {
	p, ok := d.programs[prog]
	if !ok || d.ops == nil {
		return
	}
	xs, ys, ok := d.vertices(index, value, count)
	if !ok {
		return
	}
	var path clip.Path
	path.Begin(d.ops)
	for i := 0; i+1 < len(xs); i += 2 {
		path.MoveTo(d.point(u, xs[i], ys[i]))
		path.LineTo(d.point(u, xs[i+1], ys[i+1]))
	}
	d.stroke(p, path.End(), u.Color)
}

// Flush rasterizes the recorded frame into the headless texture.
func (d *Device) Flush() error {
	if d.tex == nil {
		return ErrNotHeadless
	}
	return d.tex.Frame(&d.own)
}

// Screenshot copies the last flushed frame into a new image.
func (d *Device) Screenshot() (*image.RGBA, error) {
	if d.tex == nil {
		return nil, ErrNotHeadless
	}
	img := image.NewRGBA(image.Rectangle{Max: d.size})
	if err := d.tex.Screenshot(img); err != nil {
		return nil, fmt.Errorf("failed reading back frame: %w", err)
	}
	return img, nil
}

// Release frees the headless texture, if any. Window devices hold no GPU
// state of their own.
func (d *Device) Release() {
	if d.tex != nil {
		d.tex.Release()
		d.tex = nil
	}
}

var _ render.Device = (*Device)(nil)
