package deconv

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// Params holds the kernel and regularisation parameters of one solve.
// All durations are in seconds, SampleRate in Hz.
type Params struct {
	TauRise       float64 `yaml:"tau_rise_s" json:"tau_rise_s"`
	TauDecay      float64 `yaml:"tau_decay_s" json:"tau_decay_s"`
	Lambda        float64 `yaml:"lambda" json:"lambda"`
	SampleRate    float64 `yaml:"sampling_rate_hz" json:"sampling_rate_hz"`
	FilterEnabled bool    `yaml:"filter_enabled" json:"filter_enabled"`
}

// Validate checks the parameter set and returns a normalised copy.
// Non-finite or non-positive tau, lambda, or rate fail with ErrInvalidParams.
// A tau_rise > tau_decay is repaired by swapping the pair; a warning is
// logged because the caller's intent is ambiguous there. Equal taus fail
// with ErrInvalidParams.
func (p Params) Validate() (Params, error) {
	for name, v := range map[string]float64{
		"tau_rise": p.TauRise, "tau_decay": p.TauDecay, "sampling_rate": p.SampleRate,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return p, fmt.Errorf("%w: %s = %v", ErrInvalidParams, name, v)
		}
	}
	if math.IsNaN(p.Lambda) || math.IsInf(p.Lambda, 0) || p.Lambda <= 0 {
		return p, fmt.Errorf("%w: lambda = %v", ErrInvalidParams, p.Lambda)
	}
	if p.TauRise >= p.TauDecay {
		logrus.Warnf("tau_rise %.4gs >= tau_decay %.4gs, swapping", p.TauRise, p.TauDecay)
		p.TauRise, p.TauDecay = p.TauDecay, p.TauRise
		if p.TauRise == p.TauDecay {
			// Equal taus make the kernel identically zero.
			return p, fmt.Errorf("%w: tau_rise == tau_decay == %v", ErrInvalidParams, p.TauRise)
		}
	}
	return p, nil
}

// SameKernel reports whether q would produce the same kernel and filter as p.
func (p Params) SameKernel(q Params) bool {
	return p.TauRise == q.TauRise && p.TauDecay == q.TauDecay &&
		p.SampleRate == q.SampleRate && p.FilterEnabled == q.FilterEnabled
}

// Equal reports exact equality of all fields.
func (p Params) Equal(q Params) bool {
	return p.SameKernel(q) && p.Lambda == q.Lambda
}
