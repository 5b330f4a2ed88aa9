package deconv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Solver runs non-negative L1-regularised least-squares deconvolution of a
// single trace with FISTA and adaptive restart. It is not safe for
// concurrent use; each worker owns exactly one instance.
//
// The solution vectors s and sPrev are kept in float32 so that an exported
// state snapshot restores behaviour exactly: two instances that load the
// same snapshot produce bit-identical iterates. Accumulation inside an
// iteration is float64.
type Solver struct {
	cfg *Config

	params Params
	h      []float64 // unit-peak kernel
	gDC    float64   // sum(h), DC gain
	lip    float64   // Lipschitz bound for the gradient step

	y     []float32 // active trace (filtered copy when the filter is on)
	s     []float32
	sPrev []float32

	// float64 scratch, grown with the largest active length observed
	yk   []float64
	conv []float64
	grad []float64
	sNew []float32

	baseline  float64
	tFista    float64
	iter      int
	lastObj   float64
	converged bool
	poisoned  bool

	activeLen int
}

// NewSolver creates a solver with the given tuning constants. A nil cfg
// uses the defaults.
func NewSolver(cfg *Config) *Solver {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Solver{cfg: cfg, tFista: 1}
}

// SetParams validates p, rebuilds the kernel, and recomputes the Lipschitz
// bound. The current solution is kept: callers decide separately whether to
// warm-start, reset momentum, or cold-start via SetTrace.
func (sv *Solver) SetParams(p Params) error {
	valid, err := p.Validate()
	if err != nil {
		return err
	}
	h, err := BuildKernel(valid.TauRise, valid.TauDecay, valid.SampleRate)
	if err != nil {
		return err
	}
	sv.params = valid
	sv.h = h
	sv.gDC = floats.Sum(h)
	// Conservative Lipschitz bound ||h||_1^2 for the Toeplitz operator;
	// all kernel samples are non-negative so the L1 norm equals the sum.
	sv.lip = sv.gDC * sv.gDC
	if sv.lip <= 0 {
		return fmt.Errorf("%w: kernel DC gain %v", ErrInvalidParams, sv.gDC)
	}
	return nil
}

// Params returns the validated parameters of the last SetParams call.
func (sv *Solver) Params() Params { return sv.params }

// SetTrace installs the active trace and cold-starts the solution. The
// input is copied; when the filter is enabled the copy is bandpass-filtered
// in place before any iteration. Internal buffers grow to the largest
// active length observed and never shrink.
func (sv *Solver) SetTrace(y []float32) error {
	if sv.h == nil {
		return fmt.Errorf("%w: SetParams must precede SetTrace", ErrInvalidParams)
	}
	if len(y) < len(sv.h) {
		return fmt.Errorf("%w: trace length %d < kernel length %d",
			ErrDimensionMismatch, len(y), len(sv.h))
	}
	sv.grow(len(y))
	sv.activeLen = len(y)
	copy(sv.y[:sv.activeLen], y)

	if sv.params.FilterEnabled {
		bp, err := NewBandpassWith(sv.params.TauRise, sv.params.TauDecay, sv.params.SampleRate,
			sv.cfg.MarginFactorHP, sv.cfg.MarginFactorLP)
		if err != nil {
			return err
		}
		if err := bp.ApplyF32(sv.y[:sv.activeLen]); err != nil {
			return err
		}
	}

	sv.coldStart()
	sv.poisoned = false
	return nil
}

// FilteredTrace returns a copy of the active trace as the solver sees it
// (after any bandpass), for rendering overlays.
func (sv *Solver) FilteredTrace() []float32 {
	out := make([]float32, sv.activeLen)
	copy(out, sv.y[:sv.activeLen])
	return out
}

func (sv *Solver) coldStart() {
	for i := 0; i < sv.activeLen; i++ {
		sv.s[i] = 0
		sv.sPrev[i] = 0
	}
	sv.baseline = 0
	sv.tFista = 1
	sv.iter = 0
	sv.lastObj = math.Inf(1)
	sv.converged = false
}

// grow widens every internal buffer to at least n samples.
func (sv *Solver) grow(n int) {
	if cap(sv.y) >= n {
		sv.y = sv.y[:cap(sv.y)]
		sv.s = sv.s[:cap(sv.s)]
		sv.sPrev = sv.sPrev[:cap(sv.sPrev)]
		sv.sNew = sv.sNew[:cap(sv.sNew)]
		sv.yk = sv.yk[:cap(sv.yk)]
		sv.conv = sv.conv[:cap(sv.conv)]
		sv.grad = sv.grad[:cap(sv.grad)]
		return
	}
	sv.y = make([]float32, n)
	sv.s = make([]float32, n)
	sv.sPrev = make([]float32, n)
	sv.sNew = make([]float32, n)
	sv.yk = make([]float64, n)
	sv.conv = make([]float64, n)
	sv.grad = make([]float64, n)
}

// ResetMomentum drops the FISTA extrapolation while keeping the solution:
// tFista is set to 1 and sPrev to s. Used when the kernel changed slightly
// but the solution magnitude is still useful.
func (sv *Solver) ResetMomentum() {
	sv.tFista = 1
	copy(sv.sPrev[:sv.activeLen], sv.s[:sv.activeLen])
	sv.lastObj = math.Inf(1)
	sv.converged = false
}

// StepBatch runs up to n inner iterations, returning early once converged.
// It reports whether the solve has converged. A non-finite value inside an
// iteration halts the solver with ErrNumericNonFinite naming the iteration;
// the instance must be re-initialised with SetTrace before further use.
func (sv *Solver) StepBatch(n int) (bool, error) {
	if sv.poisoned {
		return false, fmt.Errorf("%w: solver poisoned at iteration %d, re-initialise with SetTrace",
			ErrNumericNonFinite, sv.iter)
	}
	if sv.activeLen == 0 {
		return false, fmt.Errorf("%w: no trace set", ErrDimensionMismatch)
	}
	for k := 0; k < n; k++ {
		if sv.converged {
			break
		}
		if err := sv.iterate(); err != nil {
			sv.poisoned = true
			return false, err
		}
		if sv.iter >= sv.cfg.MaxIterations {
			sv.converged = true
		}
	}
	return sv.converged, nil
}

// iterate performs one FISTA step with adaptive restart.
func (sv *Solver) iterate() error {
	L := sv.activeLen
	y, s, sPrev := sv.y[:L], sv.s[:L], sv.sPrev[:L]
	yk, conv, grad, sNew := sv.yk[:L], sv.conv[:L], sv.grad[:L], sv.sNew[:L]

	// 1. Extrapolate with the Nesterov momentum weight, clipped to >= 0.
	tNew := (1 + math.Sqrt(1+4*sv.tFista*sv.tFista)) / 2
	beta := (sv.tFista - 1) / tNew
	for i := 0; i < L; i++ {
		v := float64(s[i]) + beta*(float64(s[i])-float64(sPrev[i]))
		if v < 0 {
			v = 0
		}
		yk[i] = v
	}

	// 2. Residual r = y - K*yk - b and gradient g = -K^T r.
	convolveKernel(sv.h, yk, conv)
	for i := 0; i < L; i++ {
		conv[i] = float64(y[i]) - conv[i] - sv.baseline
	}
	adjointKernelNeg(sv.h, conv, grad)

	// 3. Proximal step: shrink and project in one max.
	shrink := sv.params.Lambda * sv.gDC / sv.lip
	invL := 1.0 / sv.lip
	for i := 0; i < L; i++ {
		v := yk[i] - invL*grad[i] - shrink
		if v < 0 {
			v = 0
		}
		sNew[i] = float32(v)
	}

	// 4. Closed-form baseline for the new solution.
	convolveKernelF32(sv.h, sNew, conv)
	sum := 0.0
	for i := 0; i < L; i++ {
		conv[i] = float64(y[i]) - conv[i]
		sum += conv[i]
	}
	b := sum / float64(L)

	// 5. Objective and adaptive restart.
	obj := 0.0
	l1 := 0.0
	for i := 0; i < L; i++ {
		d := conv[i] - b
		obj += d * d
		l1 += float64(sNew[i])
	}
	obj = 0.5*obj + sv.params.Lambda*sv.gDC*l1
	if math.IsNaN(obj) || math.IsInf(obj, 0) {
		return fmt.Errorf("%w: objective at iteration %d", ErrNumericNonFinite, sv.iter)
	}

	restarted := false
	if obj > sv.lastObj {
		// Momentum overshot: drop it and restore monotonicity.
		sv.tFista = 1
		copy(sPrev, sNew)
		restarted = true
	} else {
		sv.tFista = tNew
	}

	// 6. Commit.
	if !restarted {
		copy(sPrev, s)
	}
	copy(s, sNew)
	sv.baseline = b
	sv.iter++

	// Convergence on relative objective change, restarts excepted.
	if !restarted && !math.IsInf(sv.lastObj, 1) {
		denom := math.Abs(sv.lastObj)
		if denom < 1e-30 {
			denom = 1e-30
		}
		if math.Abs(sv.lastObj-obj)/denom < sv.cfg.ConvergenceRTol {
			sv.converged = true
		}
	}
	sv.lastObj = obj
	return nil
}

// Objective evaluates the current objective f(s, b) without mutating state.
func (sv *Solver) Objective() float64 {
	L := sv.activeLen
	if L == 0 {
		return math.Inf(1)
	}
	conv := make([]float64, L)
	convolveKernelF32(sv.h, sv.s[:L], conv)
	obj, l1 := 0.0, 0.0
	for i := 0; i < L; i++ {
		d := float64(sv.y[i]) - conv[i] - sv.baseline
		obj += d * d
		l1 += float64(sv.s[i])
	}
	return 0.5*obj + sv.params.Lambda*sv.gDC*l1
}

// Solution returns a copy of the current spike estimate.
func (sv *Solver) Solution() []float32 {
	out := make([]float32, sv.activeLen)
	copy(out, sv.s[:sv.activeLen])
	return out
}

// Reconvolution returns K*s + b for the current solution.
func (sv *Solver) Reconvolution() []float32 {
	L := sv.activeLen
	conv := make([]float64, L)
	convolveKernelF32(sv.h, sv.s[:L], conv)
	out := make([]float32, L)
	for i := 0; i < L; i++ {
		out[i] = float32(conv[i] + sv.baseline)
	}
	return out
}

// Baseline returns the current scalar baseline estimate.
func (sv *Solver) Baseline() float64 { return sv.baseline }

// Iteration returns the number of iterations completed on the active trace.
func (sv *Solver) Iteration() int { return sv.iter }

// Converged reports whether the current solve has converged.
func (sv *Solver) Converged() bool { return sv.converged }

// ActiveLength returns the active trace length.
func (sv *Solver) ActiveLength() int { return sv.activeLen }

// convolveKernel computes out[t] = sum_k h[k]*x[t-k] for the lower
// triangular Toeplitz operator. K << L keeps the direct loop acceptable.
func convolveKernel(h, x, out []float64) {
	K := len(h)
	for t := range out {
		kmax := K
		if t+1 < kmax {
			kmax = t + 1
		}
		acc := 0.0
		for k := 0; k < kmax; k++ {
			acc += h[k] * x[t-k]
		}
		out[t] = acc
	}
}

// convolveKernelF32 is convolveKernel for a float32 input vector.
func convolveKernelF32(h []float64, x []float32, out []float64) {
	K := len(h)
	for t := range out {
		kmax := K
		if t+1 < kmax {
			kmax = t + 1
		}
		acc := 0.0
		for k := 0; k < kmax; k++ {
			acc += h[k] * float64(x[t-k])
		}
		out[t] = acc
	}
}

// adjointKernelNeg computes out[i] = -sum_k h[k]*r[i+k], the negated
// adjoint applied to the residual.
func adjointKernelNeg(h, r, out []float64) {
	K := len(h)
	L := len(r)
	for i := 0; i < L; i++ {
		kmax := K
		if L-i < kmax {
			kmax = L - i
		}
		acc := 0.0
		for k := 0; k < kmax; k++ {
			acc += h[k] * r[i+k]
		}
		out[i] = -acc
	}
}
