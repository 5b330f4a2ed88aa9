package deconv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Margin factors tying the bandpass cutoffs to the kernel time constants.
// The high-pass corner sits well below the decay corner frequency and the
// low-pass corner well above the rise corner. Both the filter and the
// spectrum overlay must use these same values.
const (
	MarginFactorHP = 16.0
	MarginFactorLP = 4.0
)

// PaddingTauMultiplier sets the kernel support and window padding in units
// of tau_decay: the impulse response is sampled over 5*tau_decay and windows
// are padded by the same span on each side.
const PaddingTauMultiplier = 5.0

// KernelLength returns the kernel support in samples for a decay constant
// at a given sampling rate.
func KernelLength(tauDecay, fs float64) int {
	return int(math.Ceil(PaddingTauMultiplier * tauDecay * fs))
}

// BuildKernel samples the double-exponential impulse response
// h(t) = exp(-t/tau_decay) - exp(-t/tau_rise) over 5*tau_decay seconds and
// rescales it to unit peak.
func BuildKernel(tauRise, tauDecay, fs float64) ([]float64, error) {
	if err := checkTaus(tauRise, tauDecay, fs); err != nil {
		return nil, err
	}
	n := KernelLength(tauDecay, fs)
	if n < 1 {
		n = 1
	}
	h := make([]float64, n)
	dt := 1.0 / fs
	for i := range h {
		t := float64(i) * dt
		h[i] = math.Exp(-t/tauDecay) - math.Exp(-t/tauRise)
	}
	peak := floats.Max(h)
	if peak <= 0 {
		return nil, fmt.Errorf("%w: degenerate kernel peak %v for tau_rise=%v tau_decay=%v",
			ErrInvalidParams, peak, tauRise, tauDecay)
	}
	floats.Scale(1.0/peak, h)
	return h, nil
}

// AR2Coeffs is the second-order autoregressive representation of the kernel,
// c[t] = g1*c[t-1] + g2*c[t-2] + s[t]. Reported in exports for downstream
// pipelines; the solver itself works with the sampled impulse response.
type AR2Coeffs struct {
	DecayRoot float64 `json:"decayRoot"`
	RiseRoot  float64 `json:"riseRoot"`
	G1        float64 `json:"g1"`
	G2        float64 `json:"g2"`
	Dt        float64 `json:"dt"`
}

// BuildAR2Coeffs derives the AR(2) coefficients from the time constants.
func BuildAR2Coeffs(tauRise, tauDecay, fs float64) (AR2Coeffs, error) {
	if err := checkTaus(tauRise, tauDecay, fs); err != nil {
		return AR2Coeffs{}, err
	}
	dt := 1.0 / fs
	decayRoot := math.Exp(-dt / tauDecay)
	riseRoot := math.Exp(-dt / tauRise)
	return AR2Coeffs{
		DecayRoot: decayRoot,
		RiseRoot:  riseRoot,
		G1:        decayRoot + riseRoot,
		G2:        -(decayRoot * riseRoot),
		Dt:        dt,
	}, nil
}

// FilterCutoffs returns the (high-pass, low-pass) corner frequencies in Hz
// derived from the time constants, clamped into (0, fs/2).
func FilterCutoffs(tauRise, tauDecay, fs float64) (fHP, fLP float64, err error) {
	return FilterCutoffsWith(tauRise, tauDecay, fs, MarginFactorHP, MarginFactorLP)
}

// FilterCutoffsWith is FilterCutoffs with explicit margin factors, for
// configurations that tune them.
func FilterCutoffsWith(tauRise, tauDecay, fs, marginHP, marginLP float64) (fHP, fLP float64, err error) {
	if err := checkTaus(tauRise, tauDecay, fs); err != nil {
		return 0, 0, err
	}
	fHP = 1.0 / (2 * math.Pi * tauDecay * marginHP)
	fLP = marginLP / (2 * math.Pi * tauRise)
	nyquist := fs / 2
	fHP = clampOpen(fHP, nyquist)
	fLP = clampOpen(fLP, nyquist)
	return fHP, fLP, nil
}

// clampOpen forces f into the open interval (0, nyquist).
func clampOpen(f, nyquist float64) float64 {
	const edge = 1e-6
	if f <= 0 {
		return edge * nyquist
	}
	if f >= nyquist {
		return (1 - edge) * nyquist
	}
	return f
}

func checkTaus(tauRise, tauDecay, fs float64) error {
	for name, v := range map[string]float64{"tau_rise": tauRise, "tau_decay": tauDecay, "fs": fs} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: %s = %v", ErrInvalidParams, name, v)
		}
	}
	return nil
}
