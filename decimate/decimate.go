// Package decimate reduces long sample windows to a size bounded by the
// display resolution while preserving every column's extrema.
package decimate

// Decimate reduces samples to at most 2*displayWidth values.
//
// If the window already fits, samples is returned unchanged. Otherwise the
// window is split into displayWidth columns, column c covering
// [c*N/W, (c+1)*N/W), and each column contributes its minimum followed by its
// maximum. The pairs are written into scratch, which should come from a Pool
// with capacity of at least 2*displayWidth; a fresh buffer is allocated if it
// is too small. The returned series aliases either samples or scratch.
func Decimate(samples []float64, displayWidth int, scratch []float64) (series []float64, n int) {
	if displayWidth < 1 || len(samples) <= 2*displayWidth {
		return samples, len(samples)
	}
	out := 2 * displayWidth
	if cap(scratch) < out {
		scratch = make([]float64, out)
	}
	scratch = scratch[:out]
	total := len(samples)
	lo := 0
	for c := 0; c < displayWidth; c++ {
		hi := (c + 1) * total / displayWidth
		lowest, highest := samples[lo], samples[lo]
		for _, v := range samples[lo+1 : hi] {
			lowest = min(lowest, v)
			highest = max(highest, v)
		}
		scratch[2*c] = lowest
		scratch[2*c+1] = highest
		lo = hi
	}
	return scratch, out
}

// Decimated reports whether Decimate would reduce a window of length n.
func Decimated(n, displayWidth int) bool {
	return displayWidth >= 1 && n > 2*displayWidth
}

// ColumnCenter returns the position, in samples from the start of the window,
// of the center of column c when a window of n samples is split into
// displayWidth columns.
func ColumnCenter(c, n, displayWidth int) float64 {
	lo := c * n / displayWidth
	hi := (c + 1) * n / displayWidth
	return float64(lo+hi) / 2
}
