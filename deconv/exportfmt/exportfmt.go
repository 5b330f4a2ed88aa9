// Package exportfmt reads and writes the shareable settings file: the
// tuned parameters plus their AR(2) representation and a human-readable
// statement of the model, versioned under schema 1.1.0.
package exportfmt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/catune/catune/deconv"
)

// SchemaVersion of files this package writes. Parse accepts any 1.x file.
const SchemaVersion = "1.1.0"

// Formulation spells the model out for humans and downstream pipelines.
type Formulation struct {
	Model            string `json:"model"`
	Objective        string `json:"objective"`
	Kernel           string `json:"kernel"`
	AR2Relation      string `json:"ar2_relation"`
	LambdaDefinition string `json:"lambda_definition"`
	Convergence      string `json:"convergence"`
}

// Metadata carries optional provenance of the tuned recording.
type Metadata struct {
	SourceFilename string `json:"source_filename,omitempty"`
	NumCells       int    `json:"num_cells,omitempty"`
	NumTimepoints  int    `json:"num_timepoints,omitempty"`
}

// Settings is the exported document.
type Settings struct {
	SchemaVersion   string           `json:"schema_version"`
	AppVersion      string           `json:"app_version"`
	ExportDate      string           `json:"export_date"`
	Parameters      deconv.Params    `json:"parameters"`
	AR2Coefficients deconv.AR2Coeffs `json:"ar2_coefficients"`
	Formulation     Formulation      `json:"formulation"`
	Metadata        Metadata         `json:"metadata"`
}

// Build assembles a Settings document for the given parameters.
func Build(p deconv.Params, meta Metadata, appVersion string, now time.Time) (*Settings, error) {
	valid, err := p.Validate()
	if err != nil {
		return nil, err
	}
	ar2, err := deconv.BuildAR2Coeffs(valid.TauRise, valid.TauDecay, valid.SampleRate)
	if err != nil {
		return nil, err
	}
	return &Settings{
		SchemaVersion:   SchemaVersion,
		AppVersion:      appVersion,
		ExportDate:      now.UTC().Format(time.RFC3339),
		Parameters:      valid,
		AR2Coefficients: ar2,
		Formulation: Formulation{
			Model:            "y(t) = (K*s)(t) + b + noise, s >= 0",
			Objective:        "minimize 0.5*||y - K*s - b||^2 + lambda*G_dc*||s||_1 subject to s >= 0",
			Kernel:           "h(t) = exp(-t/tau_decay) - exp(-t/tau_rise), unit peak, support 5*tau_decay",
			AR2Relation:      "c[t] = g1*c[t-1] + g2*c[t-2] + s[t]",
			LambdaDefinition: "lambda scales the L1 weight by the kernel DC gain G_dc = sum(h)",
			Convergence:      "relative objective change < 1e-6 or 2000 iterations",
		},
		Metadata: meta,
	}, nil
}

// Marshal serialises a Settings document as indented JSON.
func (s *Settings) Marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Parse decodes and re-validates a settings file. Imported parameters are
// held to the same checks the exporter applied.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", deconv.ErrIoFormat, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	if !strings.HasPrefix(s.SchemaVersion, "1.") {
		return fmt.Errorf("%w: unsupported schema_version %q", deconv.ErrIoFormat, s.SchemaVersion)
	}
	if s.ExportDate != "" {
		if _, err := time.Parse(time.RFC3339, s.ExportDate); err != nil {
			return fmt.Errorf("%w: export_date %q is not ISO-8601", deconv.ErrIoFormat, s.ExportDate)
		}
	}
	p := s.Parameters
	for name, v := range map[string]float64{
		"tau_rise_s": p.TauRise, "tau_decay_s": p.TauDecay,
		"lambda": p.Lambda, "sampling_rate_hz": p.SampleRate,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: parameters.%s = %v", deconv.ErrIoFormat, name, v)
		}
	}
	if _, err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", deconv.ErrIoFormat, err)
	}
	return nil
}
