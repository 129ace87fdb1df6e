package ingest

import "sync"

// ring is the retained history of one channel. Writers and readers may race;
// every read copies out under the read lock so callers never share storage
// with the ring.
type ring struct {
	lock sync.RWMutex
	data []float64
	// total is the number of samples ever written. The next write lands at
	// total % len(data).
	total uint64
}

func newRing(capacity int) *ring {
	return &ring{data: make([]float64, capacity)}
}

// write appends samples, evicting the oldest retained values once the ring is
// full. A batch longer than the ring keeps only its tail.
func (r *ring) write(samples []float64) {
	r.lock.Lock()
	defer r.lock.Unlock()
	size := uint64(len(r.data))
	if uint64(len(samples)) > size {
		skipped := uint64(len(samples)) - size
		r.total += skipped
		samples = samples[skipped:]
	}
	pos := r.total % size
	n := copy(r.data[pos:], samples)
	copy(r.data, samples[n:])
	r.total += uint64(len(samples))
}

// retained returns how many samples are currently held.
func (r *ring) retained() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.retainedLocked()
}

func (r *ring) retainedLocked() int {
	if r.total > uint64(len(r.data)) {
		return len(r.data)
	}
	return int(r.total)
}

func (r *ring) written() uint64 {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.total
}

// appendLatest appends the newest count samples, oldest first, to dst.
func (r *ring) appendLatest(dst []float64, count int) []float64 {
	r.lock.RLock()
	defer r.lock.RUnlock()
	count = min(count, r.retainedLocked())
	if count <= 0 {
		return dst
	}
	size := uint64(len(r.data))
	start := (r.total - uint64(count)) % size
	end := start + uint64(count)
	if end <= size {
		return append(dst, r.data[start:end]...)
	}
	dst = append(dst, r.data[start:]...)
	return append(dst, r.data[:end-size]...)
}
