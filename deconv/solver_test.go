package deconv

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = Params{TauRise: 0.02, TauDecay: 0.4, Lambda: 0.01, SampleRate: 30}

// kernelResponse builds y = K*spikes + noise for test fixtures.
func kernelResponse(t *testing.T, n int, spikes map[int]float64, noise float64, seed int64) []float32 {
	t.Helper()
	h, err := BuildKernel(testParams.TauRise, testParams.TauDecay, testParams.SampleRate)
	require.NoError(t, err)
	y := make([]float32, n)
	for at, amp := range spikes {
		for k := 0; k < len(h) && at+k < n; k++ {
			y[at+k] += float32(amp * h[k])
		}
	}
	if noise > 0 {
		rng := rand.New(rand.NewSource(seed))
		for i := range y {
			y[i] += float32(noise * rng.NormFloat64())
		}
	}
	return y
}

func solveToConvergence(t *testing.T, sv *Solver) {
	t.Helper()
	converged, err := sv.StepBatch(sv.cfg.MaxIterations)
	require.NoError(t, err)
	require.True(t, converged)
}

func TestSolver_NonNegativity(t *testing.T) {
	// Property: s[i] >= 0 after any number of step batches, for any trace.
	rng := rand.New(rand.NewSource(99))
	for trial := 0; trial < 10; trial++ {
		n := 200 + rng.Intn(400)
		y := make([]float32, n)
		for i := range y {
			y[i] = float32(rng.NormFloat64())
		}
		sv := NewSolver(nil)
		require.NoError(t, sv.SetParams(testParams))
		require.NoError(t, sv.SetTrace(y))
		for batch := 0; batch < 5; batch++ {
			_, err := sv.StepBatch(1 + rng.Intn(20))
			require.NoError(t, err)
			for i, v := range sv.Solution() {
				require.GreaterOrEqual(t, v, float32(0), "trial %d s[%d]", trial, i)
			}
		}
	}
}

func TestSolver_ObjectiveMonotoneModuloRestarts(t *testing.T) {
	// Property: the objective is non-increasing across iterations except at
	// an adaptive restart, and a restart is always followed by descent (the
	// restarted step is a plain proximal step with a safe step size).
	y := kernelResponse(t, 600, map[int]float64{50: 1, 200: 0.7, 400: 1.2}, 0.05, 21)
	sv := NewSolver(nil)
	require.NoError(t, sv.SetParams(testParams))
	require.NoError(t, sv.SetTrace(y))

	prev := math.Inf(1)
	increased := false
	first := sv.Objective()
	for i := 0; i < 400; i++ {
		_, err := sv.StepBatch(1)
		require.NoError(t, err)
		obj := sv.Objective()
		if obj > prev+math.Abs(prev)*1e-12 {
			require.False(t, increased, "two consecutive objective increases at iteration %d", i)
			increased = true
		} else {
			increased = false
		}
		prev = obj
		if sv.Converged() {
			break
		}
	}
	assert.Less(t, prev, first, "objective should decrease overall")
}

func TestSolver_RecoversImpulseAtZero(t *testing.T) {
	// A lone spike at t=0: the converged solution concentrates there.
	y := kernelResponse(t, 128, map[int]float64{0: 1}, 0, 0)
	sv := NewSolver(nil)
	require.NoError(t, sv.SetParams(testParams))
	require.NoError(t, sv.SetTrace(y))
	solveToConvergence(t, sv)

	s := sv.Solution()
	assert.GreaterOrEqual(t, s[0], float32(0.8))
	assert.LessOrEqual(t, s[0], float32(1.0))
	for i := 5; i < len(s); i++ {
		assert.Less(t, s[i], float32(0.05), "s[%d]", i)
	}
}

func TestSolver_HighLambdaSuppressesPureNoise(t *testing.T) {
	// Pure noise under a heavy L1 weight: essentially no spikes survive.
	rng := rand.New(rand.NewSource(13))
	y := make([]float32, 1000)
	for i := range y {
		y[i] = float32(0.1 * rng.NormFloat64())
	}
	p := testParams
	p.Lambda = 1.0
	sv := NewSolver(nil)
	require.NoError(t, sv.SetParams(p))
	require.NoError(t, sv.SetTrace(y))
	solveToConvergence(t, sv)

	l1 := 0.0
	for _, v := range sv.Solution() {
		l1 += float64(v)
	}
	assert.Less(t, l1, 5.0)
}

func TestSolver_TwoSpikesConcentrate(t *testing.T) {
	y := kernelResponse(t, 500, map[int]float64{100: 1, 300: 1}, 0, 0)
	p := testParams
	p.Lambda = 0.001
	sv := NewSolver(nil)
	require.NoError(t, sv.SetParams(p))
	require.NoError(t, sv.SetTrace(y))
	solveToConvergence(t, sv)

	s := sv.Solution()
	for _, at := range []int{100, 300} {
		sum := float32(0)
		for i := at - 2; i <= at+2; i++ {
			sum += s[i]
		}
		assert.GreaterOrEqual(t, sum, float32(0.9), "window around %d", at)
	}
	// Mass away from the spikes stays negligible.
	for i, v := range s {
		if (i >= 95 && i <= 105) || (i >= 295 && i <= 305) {
			continue
		}
		assert.Less(t, v, float32(0.05), "s[%d]", i)
	}
}

func TestSolver_StateRoundTripIsBitIdentical(t *testing.T) {
	// Property: export then load reproduces solver behaviour exactly: one
	// further step on each instance yields identical solutions.
	y := kernelResponse(t, 400, map[int]float64{80: 1, 250: 0.8}, 0.03, 31)
	a := NewSolver(nil)
	require.NoError(t, a.SetParams(testParams))
	require.NoError(t, a.SetTrace(y))
	_, err := a.StepBatch(57)
	require.NoError(t, err)

	blob := a.ExportState()
	assert.Equal(t, StateSize(400), len(blob))

	b := NewSolver(nil)
	require.NoError(t, b.SetParams(testParams))
	require.NoError(t, b.SetTrace(y))
	b.LoadState(blob)
	require.Equal(t, a.Iteration(), b.Iteration())

	_, err = a.StepBatch(1)
	require.NoError(t, err)
	_, err = b.StepBatch(1)
	require.NoError(t, err)

	require.Equal(t, a.Solution(), b.Solution())
	require.Equal(t, a.Baseline(), b.Baseline())
	require.Equal(t, a.Iteration(), b.Iteration())
}

func TestSolver_LoadStateLengthMismatchColdStarts(t *testing.T) {
	y := kernelResponse(t, 300, map[int]float64{50: 1}, 0, 0)
	a := NewSolver(nil)
	require.NoError(t, a.SetParams(testParams))
	require.NoError(t, a.SetTrace(y))
	_, err := a.StepBatch(20)
	require.NoError(t, err)
	blob := a.ExportState()

	b := NewSolver(nil)
	require.NoError(t, b.SetParams(testParams))
	require.NoError(t, b.SetTrace(kernelResponse(t, 280, map[int]float64{50: 1}, 0, 0)))
	b.LoadState(blob)

	assert.Equal(t, 0, b.Iteration())
	for _, v := range b.Solution() {
		assert.Equal(t, float32(0), v)
	}
}

func TestSolver_WarmStartHalvesIterations(t *testing.T) {
	// After converging at lambda=0.01, re-solving at lambda=0.02 from the
	// cached state must take at most half the iterations of a cold start.
	for _, seed := range []int64{1, 2, 3} {
		y := kernelResponse(t, 800, map[int]float64{100: 1, 350: 0.9, 600: 1.1}, 0.04, seed)

		first := NewSolver(nil)
		require.NoError(t, first.SetParams(testParams))
		require.NoError(t, first.SetTrace(y))
		solveToConvergence(t, first)
		blob := first.ExportState()

		bumped := testParams
		bumped.Lambda = 0.02

		cold := NewSolver(nil)
		require.NoError(t, cold.SetParams(bumped))
		require.NoError(t, cold.SetTrace(y))
		solveToConvergence(t, cold)
		coldIters := cold.Iteration()

		warm := NewSolver(nil)
		require.NoError(t, warm.SetParams(bumped))
		require.NoError(t, warm.SetTrace(y))
		warm.LoadState(blob)
		loadedAt := warm.Iteration()
		solveToConvergence(t, warm)
		warmIters := warm.Iteration() - loadedAt

		assert.LessOrEqual(t, warmIters, coldIters/2,
			"seed %d: warm %d vs cold %d", seed, warmIters, coldIters)
	}
}

func TestSolver_NonFiniteTraceHalts(t *testing.T) {
	y := kernelResponse(t, 200, map[int]float64{50: 1}, 0, 0)
	y[100] = float32(math.NaN())
	sv := NewSolver(nil)
	require.NoError(t, sv.SetParams(testParams))
	require.NoError(t, sv.SetTrace(y))

	_, err := sv.StepBatch(10)
	require.ErrorIs(t, err, ErrNumericNonFinite)

	// The instance stays poisoned until re-initialised.
	_, err = sv.StepBatch(1)
	require.ErrorIs(t, err, ErrNumericNonFinite)

	require.NoError(t, sv.SetTrace(kernelResponse(t, 200, map[int]float64{50: 1}, 0, 0)))
	_, err = sv.StepBatch(10)
	assert.NoError(t, err)
}

func TestSolver_TraceShorterThanKernel(t *testing.T) {
	sv := NewSolver(nil)
	require.NoError(t, sv.SetParams(testParams)) // kernel length 60
	err := sv.SetTrace(make([]float32, 30))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSolver_SwapsReversedTaus(t *testing.T) {
	sv := NewSolver(nil)
	p := Params{TauRise: 0.4, TauDecay: 0.02, Lambda: 0.01, SampleRate: 30}
	require.NoError(t, sv.SetParams(p))
	assert.Equal(t, 0.02, sv.Params().TauRise)
	assert.Equal(t, 0.4, sv.Params().TauDecay)
}

func TestSolver_ResetMomentumClearsExtrapolation(t *testing.T) {
	y := kernelResponse(t, 300, map[int]float64{60: 1}, 0.02, 8)
	sv := NewSolver(nil)
	require.NoError(t, sv.SetParams(testParams))
	require.NoError(t, sv.SetTrace(y))
	_, err := sv.StepBatch(40)
	require.NoError(t, err)

	sv.ResetMomentum()
	blob := sv.ExportState()
	tFista := math.Float64frombits(binary.LittleEndian.Uint64(blob[4:]))
	assert.Equal(t, 1.0, tFista)

	// s_prev snaps to s: both halves of the snapshot agree.
	L := 300
	for i := 0; i < L; i++ {
		sOff := 24 + i*4
		pOff := 24 + (L+i)*4
		assert.Equal(t, blob[sOff:sOff+4], blob[pOff:pOff+4], "sample %d", i)
	}
}

func TestSolver_BuffersHandleShrinkingTraces(t *testing.T) {
	sv := NewSolver(nil)
	require.NoError(t, sv.SetParams(testParams))

	require.NoError(t, sv.SetTrace(kernelResponse(t, 1000, map[int]float64{100: 1}, 0, 0)))
	_, err := sv.StepBatch(10)
	require.NoError(t, err)
	assert.Equal(t, 1000, len(sv.Solution()))

	require.NoError(t, sv.SetTrace(kernelResponse(t, 200, map[int]float64{50: 1}, 0, 0)))
	_, err = sv.StepBatch(10)
	require.NoError(t, err)
	assert.Equal(t, 200, len(sv.Solution()))
	assert.Equal(t, 200, sv.ActiveLength())
}
