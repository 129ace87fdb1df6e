package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Frame times are recorded in microseconds between 1µs and 10s, with three
// significant figures.
const (
	histMin     = 1
	histMax     = 10_000_000
	histSigFigs = 3
)

// FrameTimer accumulates render durations. It keeps a lifetime histogram and
// an interval histogram that Reset clears.
type FrameTimer struct {
	mu       sync.Mutex
	interval *hdrhistogram.Histogram
	lifetime *hdrhistogram.Histogram
	last     time.Duration
}

func NewFrameTimer() *FrameTimer {
	return &FrameTimer{
		interval: hdrhistogram.New(histMin, histMax, histSigFigs),
		lifetime: hdrhistogram.New(histMin, histMax, histSigFigs),
	}
}

// Record adds one frame's duration. Durations outside the tracked range are
// clamped into it.
func (f *FrameTimer) Record(d time.Duration) {
	us := min(max(d.Microseconds(), histMin), histMax)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval.RecordValue(us)
	f.lifetime.RecordValue(us)
	f.last = d
}

// Time records the time elapsed since start.
func (f *FrameTimer) Time(start time.Time) {
	f.Record(time.Since(start))
}

// Quantile returns the duration at quantile q in [0, 1] of the current
// interval.
func (f *FrameTimer) Quantile(q float64) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Duration(f.interval.ValueAtQuantile(q*100)) * time.Microsecond
}

// Count returns the number of frames recorded since creation.
func (f *FrameTimer) Count() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lifetime.TotalCount()
}

// Last returns the most recent frame duration.
func (f *FrameTimer) Last() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Reset starts a new interval.
func (f *FrameTimer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval.Reset()
}

// Snapshot copies the lifetime histogram.
func (f *FrameTimer) Snapshot() *hdrhistogram.Histogram {
	f.mu.Lock()
	defer f.mu.Unlock()
	return hdrhistogram.Import(f.lifetime.Export())
}
