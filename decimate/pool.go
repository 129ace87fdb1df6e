package decimate

import (
	"log"
	"math/bits"
)

// Pool is a free list of reusable sample buffers bucketed by power-of-two
// capacity. It is meant to be owned by a single render loop and is not safe
// for concurrent use.
type Pool struct {
	// free[b] holds released buffers whose capacity is exactly 1<<b.
	free        [][][]float64
	outstanding map[*float64]struct{}
	allocations int
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{
		outstanding: make(map[*float64]struct{}),
	}
}

// bucketFor returns the smallest b such that 1<<b >= n.
func bucketFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

func key(buf []float64) *float64 {
	return &buf[:1][0]
}

// Acquire returns a buffer of length n whose capacity may exceed n. The
// contents are whatever the previous holder left behind. The buffer belongs
// to the caller until it is handed back with Release.
func (p *Pool) Acquire(n int) []float64 {
	if n < 1 {
		n = 1
	}
	for b := bucketFor(n); b < len(p.free); b++ {
		if last := len(p.free[b]) - 1; last >= 0 {
			buf := p.free[b][last]
			p.free[b][last] = nil
			p.free[b] = p.free[b][:last]
			p.outstanding[key(buf)] = struct{}{}
			return buf[:n]
		}
	}
	buf := make([]float64, n, 1<<bucketFor(n))
	p.allocations++
	p.outstanding[key(buf)] = struct{}{}
	return buf
}

// Release returns a buffer obtained from Acquire. The caller must not touch
// buf afterward. Releasing nil is a no-op; releasing a buffer that is not
// currently checked out is logged and ignored.
func (p *Pool) Release(buf []float64) {
	if cap(buf) == 0 {
		return
	}
	k := key(buf)
	if _, ok := p.outstanding[k]; !ok {
		log.Printf("decimate: ignoring release of a buffer (cap %d) not checked out from this pool", cap(buf))
		return
	}
	delete(p.outstanding, k)
	b := bits.Len(uint(cap(buf))) - 1
	for len(p.free) <= b {
		p.free = append(p.free, nil)
	}
	p.free[b] = append(p.free[b], buf[:0])
}

// Outstanding returns the number of buffers currently checked out.
func (p *Pool) Outstanding() int {
	return len(p.outstanding)
}

// Allocations returns how many buffers the pool has ever had to allocate.
func (p *Pool) Allocations() int {
	return p.allocations
}

// Free returns the number of buffers waiting for reuse.
func (p *Pool) Free() int {
	var n int
	for _, bucket := range p.free {
		n += len(bucket)
	}
	return n
}

// Drain drops every free buffer so the memory can be collected. Buffers still
// checked out are forgotten; releasing them afterward is ignored.
func (p *Pool) Drain() {
	p.free = nil
	clear(p.outstanding)
}
