package render

import (
	"errors"
	"fmt"
	"math"
)

// ProgramKind selects one of the renderer's two draw programs.
type ProgramKind uint8

const (
	// ProgramGrid draws disjoint line segments, two vertices per segment.
	ProgramGrid ProgramKind = iota
	// ProgramWaveform draws one connected line strip.
	ProgramWaveform
)

func (k ProgramKind) String() string {
	switch k {
	case ProgramGrid:
		return "grid"
	case ProgramWaveform:
		return "waveform"
	default:
		return "unknown"
	}
}

// Program and Buffer are opaque device handles.
type (
	Program uint32
	Buffer  uint32
)

// Device is the GPU surface the Renderer drives. Vertices live in pairs of
// buffers: one holding sample positions along the viewport's horizontal axis
// and one holding sample values. Devices place vertices with
// Uniforms.Project.
type Device interface {
	CompileProgram(kind ProgramKind) (Program, error)
	DeleteProgram(p Program)
	CreateBuffer() (Buffer, error)
	// UploadBuffer replaces the contents of b. The device must not retain
	// data after returning.
	UploadBuffer(b Buffer, data []float32)
	DeleteBuffer(b Buffer)
	// ResizeSurface reallocates the drawing target in device pixels.
	ResizeSurface(width, height int) error
	// BeginFrame clears the drawing target.
	BeginFrame()
	// DrawLineStrip connects count consecutive vertices.
	DrawLineStrip(p Program, index, value Buffer, count int, u Uniforms)
	// DrawLines draws count/2 independent segments.
	DrawLines(p Program, index, value Buffer, count int, u Uniforms)
}

// ErrInvalidViewport is returned when a viewport has an empty or inverted
// sample or amplitude range.
var ErrInvalidViewport = errors.New("invalid viewport")

// Viewport is the logical window mapped onto the drawing surface.
type Viewport struct {
	// Start and End bound the visible sample positions.
	Start, End float64
	// YMin and YMax bound the visible amplitude range.
	YMin, YMax float64
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate reports whether v describes a non-empty window.
func (v Viewport) Validate() error {
	if !finite(v.Start, v.End, v.YMin, v.YMax) {
		return fmt.Errorf("%w: non-finite bounds %+v", ErrInvalidViewport, v)
	}
	if v.Start >= v.End {
		return fmt.Errorf("%w: start %f not before end %f", ErrInvalidViewport, v.Start, v.End)
	}
	if v.YMin >= v.YMax {
		return fmt.Errorf("%w: minimum %f not below maximum %f", ErrInvalidViewport, v.YMin, v.YMax)
	}
	return nil
}

// Band is the vertical slice of the surface a channel draws into, in
// normalized coordinates measured downward from the top edge.
type Band struct {
	Top, Height float32
}

// fullBand covers the whole surface.
var fullBand = Band{Top: 0, Height: 1}

// Uniforms is the per-draw state shared by every vertex of one draw call.
type Uniforms struct {
	Viewport Viewport
	Band     Band
	// Color holds red, green, and blue intensities in [0, 1].
	Color [3]float32
}

// Project maps a vertex to normalized surface coordinates: x grows to the
// right across [0, 1] for positions inside the viewport, and y grows downward
// with the band's top at Band.Top. Values outside the amplitude range land
// outside the band.
func (u Uniforms) Project(index, value float32) (x, y float32) {
	vp := u.Viewport
	x = float32((float64(index) - vp.Start) / (vp.End - vp.Start))
	level := float32((float64(value) - vp.YMin) / (vp.YMax - vp.YMin))
	y = u.Band.Top + u.Band.Height*(1-level)
	return x, y
}

// Bands computes the band for each of n active channels, ordered top to
// bottom. Stacked bands split the surface evenly without gaps or overlap;
// overlaid bands all cover the full surface. The result is appended to dst.
func Bands(dst []Band, n int, stacked bool) []Band {
	for k := 0; k < n; k++ {
		if !stacked {
			dst = append(dst, fullBand)
			continue
		}
		top := float32(k) / float32(n)
		bottom := float32(k+1) / float32(n)
		dst = append(dst, Band{Top: top, Height: bottom - top})
	}
	return dst
}
