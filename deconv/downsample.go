package deconv

import "math"

// DownsampleMinMax reduces a long (x, y) pair to at most 2*targetBuckets
// points by emitting the (min, max) extrema of each equal-width bucket in
// time order. Rendering relies on this to keep one point pair per pixel
// bucket for million-sample traces. Non-finite samples are skipped during
// extremum selection. Inputs short enough to render directly are returned
// unchanged.
func DownsampleMinMax(xs, ys []float64, targetBuckets int) ([]float64, []float64) {
	n := len(ys)
	if len(xs) < n {
		n = len(xs)
	}
	if targetBuckets <= 0 || n <= 2*targetBuckets {
		return xs[:n], ys[:n]
	}

	outX := make([]float64, 0, 2*targetBuckets)
	outY := make([]float64, 0, 2*targetBuckets)
	for b := 0; b < targetBuckets; b++ {
		lo := b * n / targetBuckets
		hi := (b + 1) * n / targetBuckets
		minIdx, maxIdx := -1, -1
		for i := lo; i < hi; i++ {
			v := ys[i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			if minIdx < 0 || v < ys[minIdx] {
				minIdx = i
			}
			if maxIdx < 0 || v > ys[maxIdx] {
				maxIdx = i
			}
		}
		if minIdx < 0 {
			// Bucket was entirely non-finite.
			continue
		}
		// Emit the extrema pair in time order.
		first, second := minIdx, maxIdx
		if second < first {
			first, second = second, first
		}
		outX = append(outX, xs[first])
		outY = append(outY, ys[first])
		if second != first {
			outX = append(outX, xs[second])
			outY = append(outY, ys[second])
		}
	}
	return outX, outY
}
