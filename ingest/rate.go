package ingest

import (
	"sync"
	"time"
)

const (
	rateBuckets     = 10
	rateBucketWidth = 100 * time.Millisecond
	rateWindowWidth = rateBuckets * rateBucketWidth
)

// rateWindow counts samples in fixed-width time buckets so that the recent
// arrival rate can be computed without keeping per-push timestamps.
type rateWindow struct {
	lock   sync.Mutex
	counts [rateBuckets]uint64
	epochs [rateBuckets]int64
}

func bucketEpoch(now time.Time) int64 {
	return now.UnixNano() / int64(rateBucketWidth)
}

func (w *rateWindow) add(now time.Time, n int) {
	epoch := bucketEpoch(now)
	idx := epoch % rateBuckets
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.epochs[idx] != epoch {
		w.epochs[idx] = epoch
		w.counts[idx] = 0
	}
	w.counts[idx] += uint64(n)
}

// perSecond returns the samples observed in the completed buckets of the
// trailing window, scaled to samples per second. The bucket now falls in is
// still filling and is left out.
func (w *rateWindow) perSecond(now time.Time) float64 {
	epoch := bucketEpoch(now)
	w.lock.Lock()
	defer w.lock.Unlock()
	var sum uint64
	for i := range w.counts {
		if age := epoch - w.epochs[i]; age >= 1 && age < rateBuckets {
			sum += w.counts[i]
		}
	}
	return float64(sum) * float64(time.Second) / float64(rateWindowWidth-rateBucketWidth)
}
