package deconv

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config groups every tunable of the engine. Zero values in a loaded file
// fall back to the defaults, so a config file only needs to name the fields
// it overrides.
type Config struct {
	// WorkerCount is the number of solver workers. 0 means hardware
	// parallelism; the pool clamps the resolved value into [2, 8].
	WorkerCount int `yaml:"worker_count"`

	// SolveDebounceMs is the trailing debounce applied to parameter
	// changes before re-dispatch.
	SolveDebounceMs int `yaml:"solve_debounce_ms"`

	// IntermediateIntervalMs is the minimum wall-clock spacing of
	// intermediate snapshots emitted during a solve.
	IntermediateIntervalMs int `yaml:"intermediate_interval_ms"`

	// BatchSize is the number of inner FISTA iterations a worker runs
	// between cancellation checks.
	BatchSize int `yaml:"batch_size"`

	// QuantumInitialIterations bounds one dispatch when stale cells
	// outnumber workers, so workers cycle through cells.
	QuantumInitialIterations int `yaml:"quantum_initial_iterations"`

	// ConvergenceRTol is the relative objective change below which a
	// solve is declared converged.
	ConvergenceRTol float64 `yaml:"convergence_rtol"`

	// MaxIterations is the hard iteration cap per solve.
	MaxIterations int `yaml:"max_iterations"`

	// PaddingTauMultiplier sets window padding in units of tau_decay. The
	// kernel support stays at the package constant PaddingTauMultiplier.
	PaddingTauMultiplier float64 `yaml:"padding_tau_multiplier"`

	// TauChangeThreshold is the relative tau change under which a cached
	// solution is still reusable without momentum.
	TauChangeThreshold float64 `yaml:"tau_change_threshold"`

	// MarginFactorHP and MarginFactorLP tie the bandpass corners to the
	// time constants. They must match between the filter and any spectrum
	// overlay computation.
	MarginFactorHP float64 `yaml:"margin_factor_hp"`
	MarginFactorLP float64 `yaml:"margin_factor_lp"`

	// SimSpikeHz is the oversampled rate of the synthetic spike chain.
	SimSpikeHz float64 `yaml:"sim_spike_hz"`
}

// DefaultConfig returns the built-in tuning constants.
func DefaultConfig() *Config {
	return &Config{
		WorkerCount:              0,
		SolveDebounceMs:          30,
		IntermediateIntervalMs:   100,
		BatchSize:                15,
		QuantumInitialIterations: 200,
		ConvergenceRTol:          1e-6,
		MaxIterations:            2000,
		PaddingTauMultiplier:     PaddingTauMultiplier,
		TauChangeThreshold:       0.20,
		MarginFactorHP:           MarginFactorHP,
		MarginFactorLP:           MarginFactorLP,
		SimSpikeHz:               300,
	}
}

// LoadConfig reads a YAML tuning file and overlays it on the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate repairs zero-valued fields to defaults and rejects nonsense.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.SolveDebounceMs <= 0 {
		c.SolveDebounceMs = def.SolveDebounceMs
	}
	if c.IntermediateIntervalMs <= 0 {
		c.IntermediateIntervalMs = def.IntermediateIntervalMs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.QuantumInitialIterations <= 0 {
		c.QuantumInitialIterations = def.QuantumInitialIterations
	}
	if c.ConvergenceRTol <= 0 {
		c.ConvergenceRTol = def.ConvergenceRTol
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.PaddingTauMultiplier <= 0 {
		c.PaddingTauMultiplier = def.PaddingTauMultiplier
	}
	if c.TauChangeThreshold <= 0 {
		c.TauChangeThreshold = def.TauChangeThreshold
	}
	if c.MarginFactorHP <= 0 {
		c.MarginFactorHP = def.MarginFactorHP
	}
	if c.MarginFactorLP <= 0 {
		c.MarginFactorLP = def.MarginFactorLP
	}
	if c.SimSpikeHz <= 0 {
		c.SimSpikeHz = def.SimSpikeHz
	}
	if c.WorkerCount < 0 {
		return fmt.Errorf("%w: worker_count %d", ErrInvalidParams, c.WorkerCount)
	}
	if c.MarginFactorHP != def.MarginFactorHP {
		logrus.Warnf("margin_factor_hp overridden to %.3g; spectrum overlays must use the same value", c.MarginFactorHP)
	}
	return nil
}
