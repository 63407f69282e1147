package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyHistogram(t *testing.T) {
	h := New()

	_, ok := h.MostCommon()
	assert.False(t, ok)
	assert.Zero(t, h.Total())
	assert.Empty(t, h.Snapshot())
}

func TestAdjacentValuesFallIntoDifferentBuckets(t *testing.T) {
	h := New()
	h.Record(59)
	h.Record(60)

	snapshot := h.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, Bucket{Lower: 50, Count: 1}, snapshot[0])
	assert.Equal(t, Bucket{Lower: 60, Count: 1}, snapshot[1])
}

func TestMostCommon(t *testing.T) {
	tests := []struct {
		name     string
		values   []uint16
		expected Bucket
	}{
		{
			name:     "single observation",
			values:   []uint16{72},
			expected: Bucket{Lower: 70, Count: 1},
		},
		{
			name:     "clear winner",
			values:   []uint16{72, 75, 79, 61, 105},
			expected: Bucket{Lower: 70, Count: 3},
		},
		{
			name:     "tie resolves to lowest bound",
			values:   []uint16{91, 95, 62, 64},
			expected: Bucket{Lower: 60, Count: 2},
		},
		{
			name:     "tie resolves to lowest bound regardless of order",
			values:   []uint16{62, 64, 51, 55},
			expected: Bucket{Lower: 50, Count: 2},
		},
		{
			name:     "zero is a valid bucket",
			values:   []uint16{0, 3, 150},
			expected: Bucket{Lower: 0, Count: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			for _, v := range tt.values {
				h.Record(v)
			}

			best, ok := h.MostCommon()
			require.True(t, ok)
			assert.Equal(t, tt.expected, best)
			assert.Equal(t, len(tt.values), h.Total())
		})
	}
}

func TestMostCommonCountMatchesMaximum(t *testing.T) {
	h := New()
	values := []uint16{58, 59, 60, 61, 62, 63, 71, 72, 73, 74, 80}
	for _, v := range values {
		h.Record(v)
	}

	best, ok := h.MostCommon()
	require.True(t, ok)

	max := 0
	for _, b := range h.Snapshot() {
		if b.Count > max {
			max = b.Count
		}
	}
	assert.Equal(t, max, best.Count)
	assert.Equal(t, Bucket{Lower: 60, Count: 4}, best)
}

func TestBucketLabel(t *testing.T) {
	assert.Equal(t, "60-69", Bucket{Lower: 60}.Label())
	assert.Equal(t, "0-9", Bucket{Lower: 0}.Label())
}

// TestConcurrentRecordAndQuery runs a writer against readers; queries must
// never observe an inconsistent bucket (count exceeding total writes).
func TestConcurrentRecordAndQuery(t *testing.T) {
	h := New()
	const writes = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			h.Record(uint16(50 + i%50))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if best, ok := h.MostCommon(); ok {
					assert.LessOrEqual(t, best.Count, writes)
					assert.GreaterOrEqual(t, best.Count, 1)
				}
				_ = h.Snapshot()
			}
		}()
	}

	wg.Wait()

	best, ok := h.MostCommon()
	require.True(t, ok)
	assert.Equal(t, writes, h.Total())
	assert.Equal(t, 1000, best.Count)
}
