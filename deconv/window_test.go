package deconv

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanWindow_Algebra(t *testing.T) {
	// Property: paddedStart <= visibleStart, visibleStart + resultLength =
	// visibleEnd <= paddedEnd, and the result slice fits the padded window.
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 200; i++ {
		traceLen := 100 + rng.Intn(10000)
		visStart := rng.Intn(traceLen)
		visEnd := visStart + rng.Intn(traceLen-visStart)
		tauDecay := 0.05 + rng.Float64()
		fs := 10 + rng.Float64()*90

		w := PlanWindow(visStart, visEnd, traceLen, tauDecay, fs, PaddingTauMultiplier)

		assert.GreaterOrEqual(t, w.PaddedStart, 0)
		assert.LessOrEqual(t, w.PaddedStart, visStart)
		assert.Equal(t, visEnd, visStart+w.ResultLength)
		assert.LessOrEqual(t, visEnd, w.PaddedEnd)
		assert.LessOrEqual(t, w.PaddedEnd, traceLen)
		assert.LessOrEqual(t, w.ResultOffset+w.ResultLength, w.PaddedLength())
		assert.Equal(t, visStart-w.PaddedStart, w.ResultOffset)
	}
}

func TestPlanWindow_PaddingAmount(t *testing.T) {
	// tau_decay=0.4 at fs=30 pads by ceil(5*0.4*30) = 60 samples each side.
	w := PlanWindow(400, 1600, 2000, 0.4, 30, 5)
	assert.Equal(t, 340, w.PaddedStart)
	assert.Equal(t, 1660, w.PaddedEnd)
	assert.Equal(t, 60, w.ResultOffset)
	assert.Equal(t, 1200, w.ResultLength)
}

func TestPlanWindow_ClampsToTrace(t *testing.T) {
	w := PlanWindow(10, 1990, 2000, 0.4, 30, 5)
	assert.Equal(t, 0, w.PaddedStart)
	assert.Equal(t, 2000, w.PaddedEnd)
	assert.Equal(t, 10, w.ResultOffset)
	assert.Equal(t, 1980, w.ResultLength)
}

func TestPlanWindow_DegenerateVisibleRegion(t *testing.T) {
	w := PlanWindow(500, 500, 2000, 0.4, 30, 5)
	assert.Equal(t, 0, w.ResultLength)
	assert.GreaterOrEqual(t, w.PaddedLength(), 0)
}

// TestWindowedSolveMatchesFullSolve is the overlap-discard stability check:
// solving the padded window around a visible region reproduces the
// full-trace solution on the inner region.
func TestWindowedSolveMatchesFullSolve(t *testing.T) {
	fs := 30.0
	params := Params{TauRise: 0.02, TauDecay: 0.4, Lambda: 0.01, SampleRate: fs}

	// Tight convergence so both solves reach the same optimum rather than
	// stopping at different early plateaus.
	cfg := DefaultConfig()
	cfg.ConvergenceRTol = 1e-12
	cfg.MaxIterations = 8000

	h, err := BuildKernel(params.TauRise, params.TauDecay, fs)
	require.NoError(t, err)

	// Clean four-spike trace of length 2000.
	n := 2000
	y := make([]float32, n)
	for _, spike := range []struct {
		at  int
		amp float64
	}{{500, 1.0}, {700, 0.6}, {1000, 1.3}, {1500, 0.9}} {
		for k := 0; k < len(h) && spike.at+k < n; k++ {
			y[spike.at+k] += float32(spike.amp * h[k])
		}
	}

	full := NewSolver(cfg)
	require.NoError(t, full.SetParams(params))
	require.NoError(t, full.SetTrace(y))
	_, err = full.StepBatch(cfg.MaxIterations)
	require.NoError(t, err)
	require.True(t, full.Converged())

	w := PlanWindow(400, 1600, n, params.TauDecay, fs, PaddingTauMultiplier)
	windowed := NewSolver(cfg)
	require.NoError(t, windowed.SetParams(params))
	require.NoError(t, windowed.SetTrace(y[w.PaddedStart:w.PaddedEnd]))
	_, err = windowed.StepBatch(cfg.MaxIterations)
	require.NoError(t, err)
	require.True(t, windowed.Converged())

	sFull := full.Solution()
	sWin := windowed.Solution()
	rFull := full.Reconvolution()
	rWin := windowed.Reconvolution()
	for i := 0; i < w.ResultLength; i++ {
		fullIdx := 400 + i
		winIdx := w.ResultOffset + i
		assert.InDelta(t, sFull[fullIdx], sWin[winIdx], 1e-3, "s at %d", fullIdx)
		assert.InDelta(t, rFull[fullIdx], rWin[winIdx], 1e-3, "r at %d", fullIdx)
	}
}
