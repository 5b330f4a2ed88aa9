package synth

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/catune/catune/deconv"
)

// TraceConfig parameterises one synthetic cell. All probabilities are
// per imaging frame; the chain itself runs at SpikeHz and re-derives
// per-step probabilities so results do not depend on the oversample ratio
// in expectation.
type TraceConfig struct {
	Frames  int     `yaml:"frames"`
	FrameHz float64 `yaml:"frame_hz"`
	SpikeHz float64 `yaml:"spike_hz"` // oversampled chain rate

	TauRise  float64 `yaml:"tau_rise_s"`
	TauDecay float64 `yaml:"tau_decay_s"`

	// Two-state Markov chain: silent <-> active.
	PSilentToActive float64 `yaml:"p_silent_to_active"`
	PActiveToSilent float64 `yaml:"p_active_to_silent"`
	PSpikeSilent    float64 `yaml:"p_spike_silent"`
	PSpikeActive    float64 `yaml:"p_spike_active"`

	// Log-normal amplitude spread: each frame's spike count is scaled by
	// exp(sigma * N(0,1)).
	AmpSigma float64 `yaml:"amp_sigma"`

	// Drift: sinusoid with period uniform in [Frames/DriftCyclesMax,
	// Frames/DriftCyclesMin] frames.
	DriftAmp       float64 `yaml:"drift_amp"`
	DriftCyclesMin float64 `yaml:"drift_cycles_min"`
	DriftCyclesMax float64 `yaml:"drift_cycles_max"`

	// SNR sets the noise level: sigma = peak(clean) / SNR.
	SNR float64 `yaml:"snr"`
}

// DefaultTraceConfig returns a plausible cortical GCaMP-like cell at 30 Hz.
func DefaultTraceConfig() TraceConfig {
	return TraceConfig{
		Frames:          3000,
		FrameHz:         30,
		SpikeHz:         300,
		TauRise:         0.02,
		TauDecay:        0.4,
		PSilentToActive: 0.003,
		PActiveToSilent: 0.05,
		PSpikeSilent:    0.002,
		PSpikeActive:    0.4,
		AmpSigma:        0.3,
		DriftAmp:        0.15,
		DriftCyclesMin:  1,
		DriftCyclesMax:  4,
		SNR:             6,
	}
}

func (c TraceConfig) validate() error {
	if c.Frames <= 0 || c.FrameHz <= 0 || c.SpikeHz < c.FrameHz {
		return fmt.Errorf("%w: frames=%d frame_hz=%v spike_hz=%v",
			deconv.ErrInvalidParams, c.Frames, c.FrameHz, c.SpikeHz)
	}
	for name, p := range map[string]float64{
		"p_silent_to_active": c.PSilentToActive, "p_active_to_silent": c.PActiveToSilent,
		"p_spike_silent": c.PSpikeSilent, "p_spike_active": c.PSpikeActive,
	} {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return fmt.Errorf("%w: %s = %v", deconv.ErrInvalidParams, name, p)
		}
	}
	return nil
}

// perStep converts a per-frame probability to the per-chain-step
// probability with the same per-frame mass: p = 1 - (1-pFrame)^(1/n).
func perStep(pFrame float64, oversample float64) float64 {
	if pFrame <= 0 {
		return 0
	}
	if pFrame >= 1 {
		return 1
	}
	return 1 - math.Pow(1-pFrame, 1/oversample)
}

// GenerateCell simulates one cell and returns (raw, spikes, clean), each
// of length cfg.Frames. spikes carries the log-normal-scaled per-frame
// amplitudes, clean the noiseless reconvolution.
func GenerateCell(cfg TraceConfig, rng *rand.Rand, driftRng *rand.Rand, noiseRng *rand.Rand) (raw, spikes, clean []float64, err error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, nil, err
	}

	oversample := cfg.SpikeHz / cfg.FrameHz
	steps := int(float64(cfg.Frames) * oversample)
	pUp := perStep(cfg.PSilentToActive, oversample)
	pDown := perStep(cfg.PActiveToSilent, oversample)
	pSpikeSilent := perStep(cfg.PSpikeSilent, oversample)
	pSpikeActive := perStep(cfg.PSpikeActive, oversample)

	stdNormal := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	upDraw := distuv.Bernoulli{P: pUp, Src: rng}
	downDraw := distuv.Bernoulli{P: pDown, Src: rng}
	spikeSilent := distuv.Bernoulli{P: pSpikeSilent, Src: rng}
	spikeActive := distuv.Bernoulli{P: pSpikeActive, Src: rng}

	// 1-2. Simulate the chain at the oversampled rate, binning spike
	// counts to frames, then scale each frame by a log-normal amplitude.
	counts := make([]float64, cfg.Frames)
	active := false
	for i := 0; i < steps; i++ {
		if active {
			active = downDraw.Rand() == 0
		} else {
			active = upDraw.Rand() == 1
		}
		var fired float64
		if active {
			fired = spikeActive.Rand()
		} else {
			fired = spikeSilent.Rand()
		}
		if fired == 1 {
			frame := int(float64(i) / oversample)
			if frame >= cfg.Frames {
				frame = cfg.Frames - 1
			}
			counts[frame]++
		}
	}
	spikes = make([]float64, cfg.Frames)
	for i, c := range counts {
		if c > 0 {
			spikes[i] = c * math.Exp(cfg.AmpSigma*stdNormal.Rand())
		}
	}

	// 3. Convolve with the kernel.
	h, err := deconv.BuildKernel(cfg.TauRise, cfg.TauDecay, cfg.FrameHz)
	if err != nil {
		return nil, nil, nil, err
	}
	clean = make([]float64, cfg.Frames)
	for t := range clean {
		kmax := len(h)
		if t+1 < kmax {
			kmax = t + 1
		}
		acc := 0.0
		for k := 0; k < kmax; k++ {
			acc += h[k] * spikes[t-k]
		}
		clean[t] = acc
	}

	// 4. Drift and noise.
	raw = make([]float64, cfg.Frames)
	copy(raw, clean)
	if cfg.DriftAmp > 0 && cfg.DriftCyclesMax >= cfg.DriftCyclesMin && cfg.DriftCyclesMin > 0 {
		minPeriod := float64(cfg.Frames) / cfg.DriftCyclesMax
		maxPeriod := float64(cfg.Frames) / cfg.DriftCyclesMin
		period := minPeriod + driftRng.Float64()*(maxPeriod-minPeriod)
		phase := driftRng.Float64() * 2 * math.Pi
		for t := range raw {
			raw[t] += cfg.DriftAmp * math.Sin(2*math.Pi*float64(t)/period+phase)
		}
	}
	if cfg.SNR > 0 {
		peak := floats.Max(clean)
		if peak <= 0 {
			peak = 1
		}
		noise := distuv.Normal{Mu: 0, Sigma: peak / cfg.SNR, Src: noiseRng}
		for t := range raw {
			raw[t] += noise.Rand()
		}
	}
	return raw, spikes, clean, nil
}

// Dataset is a generated multi-cell recording in the row-major [C x T]
// layout the engine ingests, with ground truth kept for diagnostic
// overlays.
type Dataset struct {
	Cells  int
	Frames int
	// Data is row-major: Data[c*Frames : (c+1)*Frames] is cell c.
	Data []float32

	Spikes [][]float64
	Clean  [][]float64
}

// Row returns cell c's raw trace view into Data.
func (d *Dataset) Row(c int) []float32 {
	return d.Data[c*d.Frames : (c+1)*d.Frames]
}

// GenerateDataset composes numCells independent cells, deterministically in
// seed. Each cell draws from its own RNG stream, so regenerating with more
// cells leaves earlier cells' traces unchanged.
func GenerateDataset(cfg TraceConfig, numCells int, seed int64) (*Dataset, error) {
	if numCells <= 0 {
		return nil, fmt.Errorf("%w: num_cells = %d", deconv.ErrInvalidParams, numCells)
	}
	prng := NewPartitionedRNG(DatasetKey(seed))
	ds := &Dataset{
		Cells:  numCells,
		Frames: cfg.Frames,
		Data:   make([]float32, numCells*cfg.Frames),
		Spikes: make([][]float64, numCells),
		Clean:  make([][]float64, numCells),
	}
	for c := 0; c < numCells; c++ {
		cellRng := prng.ForStream(StreamCell(c))
		driftRng := prng.ForStream(StreamDrift(c))
		noiseRng := prng.ForStream(StreamNoise(c))
		raw, spikes, clean, err := GenerateCell(cfg, cellRng, driftRng, noiseRng)
		if err != nil {
			return nil, err
		}
		ds.Spikes[c] = spikes
		ds.Clean[c] = clean
		row := ds.Row(c)
		for i, v := range raw {
			row[i] = float32(v)
		}
	}
	return ds, nil
}
