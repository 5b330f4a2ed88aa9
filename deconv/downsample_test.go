package deconv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	return xs
}

func TestDownsampleMinMax_ShortInputPassthrough(t *testing.T) {
	xs := ramp(10)
	ys := ramp(10)
	outX, outY := DownsampleMinMax(xs, ys, 5)
	assert.Equal(t, xs, outX)
	assert.Equal(t, ys, outY)
}

func TestDownsampleMinMax_EmitsExtremaPerBucket(t *testing.T) {
	// GIVEN 100 samples with a known spike and dip in the middle bucket
	xs := ramp(100)
	ys := make([]float64, 100)
	ys[55] = 10  // max of bucket [50, 60)
	ys[52] = -10 // min of bucket [50, 60)

	// WHEN reduced to 10 buckets
	outX, outY := DownsampleMinMax(xs, ys, 10)

	// THEN at most 2 points per bucket, and the middle bucket keeps both
	// extrema in time order
	require.LessOrEqual(t, len(outY), 20)
	foundMin, foundMax := -1, -1
	for i := range outY {
		if outY[i] == -10 {
			foundMin = i
		}
		if outY[i] == 10 {
			foundMax = i
		}
	}
	require.NotEqual(t, -1, foundMin)
	require.NotEqual(t, -1, foundMax)
	assert.Less(t, foundMin, foundMax, "min at t=52 precedes max at t=55")
	assert.Equal(t, 52.0, outX[foundMin])
	assert.Equal(t, 55.0, outX[foundMax])
}

func TestDownsampleMinMax_SkipsNonFinite(t *testing.T) {
	xs := ramp(40)
	ys := make([]float64, 40)
	for i := range ys {
		ys[i] = 1
	}
	ys[3] = math.NaN()
	ys[17] = math.Inf(1)

	_, outY := DownsampleMinMax(xs, ys, 4)
	for i, v := range outY {
		assert.True(t, !math.IsNaN(v) && !math.IsInf(v, 0), "outY[%d] = %v", i, v)
	}
}

func TestDownsampleMinMax_AllNonFiniteBucketDropped(t *testing.T) {
	xs := ramp(40)
	ys := make([]float64, 40)
	for i := range ys {
		ys[i] = math.NaN()
	}
	for i := 20; i < 40; i++ {
		ys[i] = float64(i)
	}
	outX, outY := DownsampleMinMax(xs, ys, 4)
	require.Equal(t, len(outX), len(outY))
	for _, v := range outY {
		assert.False(t, math.IsNaN(v))
	}
	// The first two buckets contribute nothing.
	assert.GreaterOrEqual(t, outX[0], 20.0)
}

func TestDownsampleMinMax_MonotoneInputKeepsOrder(t *testing.T) {
	xs := ramp(1000)
	ys := ramp(1000)
	outX, _ := DownsampleMinMax(xs, ys, 100)
	for i := 1; i < len(outX); i++ {
		assert.Less(t, outX[i-1], outX[i])
	}
}
