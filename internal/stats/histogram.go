// Package stats maintains live, in-memory statistics over the heart-rate
// readings of the current session.
package stats

import (
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// BucketWidth is the fixed width of a histogram range in bpm.
const BucketWidth = 10

// Bucket is one fixed-width bpm range with its running count.
type Bucket struct {
	Lower int // inclusive lower bound, a multiple of BucketWidth
	Count int
}

// Label renders the bucket range for display, e.g. "60-69".
func (b Bucket) Label() string {
	return fmt.Sprintf("%d-%d", b.Lower, b.Lower+BucketWidth-1)
}

// Histogram buckets observed bpm values into fixed-width ranges. Buckets
// are created lazily on first observation. All methods are safe for
// concurrent use: the engine's dispatch path records while a display timer
// queries.
type Histogram struct {
	mu      sync.RWMutex
	buckets *orderedmap.OrderedMap[int, int]
	total   int
}

// New creates an empty histogram.
func New() *Histogram {
	return &Histogram{
		buckets: orderedmap.New[int, int](),
	}
}

// Record increments the count of the bucket covering bpm.
func (h *Histogram) Record(bpm uint16) {
	lower := int(bpm) / BucketWidth * BucketWidth

	h.mu.Lock()
	defer h.mu.Unlock()

	count, _ := h.buckets.Get(lower)
	h.buckets.Set(lower, count+1)
	h.total++
}

// Total returns the number of recorded observations.
func (h *Histogram) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// MostCommon returns the bucket with the highest count. Ties resolve to
// the lowest lower bound. The second result is false when nothing has been
// recorded yet.
func (h *Histogram) MostCommon() (Bucket, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.total == 0 {
		return Bucket{}, false
	}

	best := Bucket{Lower: -1}
	for pair := h.buckets.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value > best.Count || (pair.Value == best.Count && pair.Key < best.Lower) {
			best = Bucket{Lower: pair.Key, Count: pair.Value}
		}
	}
	return best, true
}

// Snapshot returns a copy of all buckets in first-observation order. The
// copy is safe to use while recording continues.
func (h *Histogram) Snapshot() []Bucket {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Bucket, 0, h.buckets.Len())
	for pair := h.buckets.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, Bucket{Lower: pair.Key, Count: pair.Value})
	}
	return out
}
