package deconv

import (
	"fmt"
	"math"
)

// bandpassOrder is the combined order of the high-pass and low-pass
// sections; it also sets the reflection padding applied at each end before
// the forward-backward pass.
const bandpassOrder = 4

// biquad is one second-order IIR section with normalised coefficients
// (a0 == 1), run in direct form II transposed.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// designHighpass builds a Butterworth high-pass section (Q = 1/sqrt(2))
// at corner f via the bilinear transform.
func designHighpass(f, fs float64) biquad {
	w0 := 2 * math.Pi * f / fs
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / math.Sqrt2
	a0 := 1 + alpha
	return biquad{
		b0: (1 + cosw) / 2 / a0,
		b1: -(1 + cosw) / a0,
		b2: (1 + cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// designLowpass builds the matching Butterworth low-pass section.
func designLowpass(f, fs float64) biquad {
	w0 := 2 * math.Pi * f / fs
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / math.Sqrt2
	a0 := 1 + alpha
	return biquad{
		b0: (1 - cosw) / 2 / a0,
		b1: (1 - cosw) / a0,
		b2: (1 - cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// apply runs the section over x in place.
func (q biquad) apply(x []float64) {
	var z1, z2 float64
	for i, v := range x {
		y := q.b0*v + z1
		z1 = q.b1*v - q.a1*y + z2
		z2 = q.b2*v - q.a2*y
		x[i] = y
	}
}

// Bandpass is the kernel-derived zero-phase filter: a high-pass and a
// low-pass Butterworth section whose corners come from FilterCutoffs,
// applied forward then backward so the net phase shift is zero.
type Bandpass struct {
	hp, lp biquad
}

// NewBandpass designs the filter for the given time constants.
func NewBandpass(tauRise, tauDecay, fs float64) (*Bandpass, error) {
	return NewBandpassWith(tauRise, tauDecay, fs, MarginFactorHP, MarginFactorLP)
}

// NewBandpassWith designs the filter with explicit margin factors.
func NewBandpassWith(tauRise, tauDecay, fs, marginHP, marginLP float64) (*Bandpass, error) {
	fHP, fLP, err := FilterCutoffsWith(tauRise, tauDecay, fs, marginHP, marginLP)
	if err != nil {
		return nil, err
	}
	return &Bandpass{
		hp: designHighpass(fHP, fs),
		lp: designLowpass(fLP, fs),
	}, nil
}

// Apply filters x in place with zero phase. The signal is extended by
// reflection over bandpassOrder samples at each end; the extension is
// dropped after the backward pass.
func (f *Bandpass) Apply(x []float64) error {
	n := len(x)
	if n < 2 {
		return fmt.Errorf("%w: trace of %d samples is too short to filter", ErrDimensionMismatch, n)
	}
	pad := bandpassOrder
	if pad > n-1 {
		pad = n - 1
	}
	buf := make([]float64, n+2*pad)
	// Reflect about the first and last samples, excluding the edge itself.
	for i := 0; i < pad; i++ {
		buf[i] = x[pad-i]
		buf[pad+n+i] = x[n-2-i]
	}
	copy(buf[pad:], x)

	// Forward pass.
	f.hp.apply(buf)
	f.lp.apply(buf)
	// Backward pass with the same coefficients on the reversed sequence.
	reverse(buf)
	f.hp.apply(buf)
	f.lp.apply(buf)
	reverse(buf)

	copy(x, buf[pad:pad+n])
	return nil
}

// ApplyF32 filters a float32 trace in place, computing in float64.
func (f *Bandpass) ApplyF32(x []float32) error {
	buf := make([]float64, len(x))
	for i, v := range x {
		buf[i] = float64(v)
	}
	if err := f.Apply(buf); err != nil {
		return err
	}
	for i, v := range buf {
		x[i] = float32(v)
	}
	return nil
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
