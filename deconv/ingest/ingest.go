// Package ingest is the collaborator edge for loaded recordings: it decodes
// a parsed flat numeric buffer into the row-major float32 matrix the engine
// consumes and validates it before any solver sees the data.
package ingest

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/catune/catune/deconv"
)

// DType names the element type of a parsed buffer. Little-endian only;
// big-endian data is rejected before decoding.
type DType string

const (
	Float64 DType = "float64"
	Float32 DType = "float32"
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Uint32  DType = "uint32"
)

// Size returns the element width in bytes, or 0 for an unknown dtype.
func (d DType) Size() int {
	switch d {
	case Float64:
		return 8
	case Float32, Int32, Uint32:
		return 4
	case Int16, Uint16:
		return 2
	case Int8, Uint8:
		return 1
	default:
		return 0
	}
}

// RawArray is the contract with the file-parsing collaborator: a flat
// little-endian buffer plus its 2-D shape and layout flags.
type RawArray struct {
	Data         []byte
	Shape        [2]int
	DType        DType
	FortranOrder bool
	BigEndian    bool
}

// Matrix is the decoded recording: row-major float32 with cells on axis 0.
type Matrix struct {
	Cells  int
	Frames int
	Data   []float32
}

// Row returns cell c's trace view.
func (m *Matrix) Row(c int) []float32 {
	return m.Data[c*m.Frames : (c+1)*m.Frames]
}

// Decode converts the raw buffer to a row-major float32 matrix. swapAxes
// inverts the axis interpretation for recordings stored time-major.
func Decode(a RawArray, swapAxes bool) (*Matrix, error) {
	if a.BigEndian {
		return nil, fmt.Errorf("%w: big-endian data is not supported", deconv.ErrIoFormat)
	}
	width := a.DType.Size()
	if width == 0 {
		return nil, fmt.Errorf("%w: unsupported dtype %q", deconv.ErrIoFormat, a.DType)
	}
	rows, cols := a.Shape[0], a.Shape[1]
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: shape [%d %d] is not a non-empty 2-D array", deconv.ErrIoFormat, rows, cols)
	}
	if len(a.Data) != rows*cols*width {
		return nil, fmt.Errorf("%w: buffer of %d bytes does not hold [%d x %d] %s",
			deconv.ErrIoFormat, len(a.Data), rows, cols, a.DType)
	}

	cells, frames := rows, cols
	if swapAxes {
		cells, frames = cols, rows
	}
	m := &Matrix{Cells: cells, Frames: frames, Data: make([]float32, rows*cols)}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var flat int
			if a.FortranOrder {
				flat = c*rows + r
			} else {
				flat = r*cols + c
			}
			v := decodeElem(a.Data[flat*width:], a.DType)
			// Logical position of (r, c) after the optional axis swap.
			cell, frame := r, c
			if swapAxes {
				cell, frame = c, r
			}
			m.Data[cell*frames+frame] = v
		}
	}
	return m, nil
}

func decodeElem(b []byte, d DType) float32 {
	switch d {
	case Float64:
		return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
	case Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case Int8:
		return float32(int8(b[0]))
	case Uint8:
		return float32(b[0])
	case Int16:
		return float32(int16(binary.LittleEndian.Uint16(b)))
	case Uint16:
		return float32(binary.LittleEndian.Uint16(b))
	case Int32:
		return float32(int32(binary.LittleEndian.Uint32(b)))
	case Uint32:
		return float32(binary.LittleEndian.Uint32(b))
	default:
		return float32(math.NaN())
	}
}

// Stats summarises the finite values of a decoded matrix.
type Stats struct {
	NaNCount int
	InfCount int
	Min      float64
	Max      float64
	Mean     float64
}

// Report is the validator verdict. Errors gate the engine; warnings are
// advisory and surfaced to the user.
type Report struct {
	Valid    bool
	Errors   []string
	Warnings []string
	Stats    Stats
}

// Validate inspects a decoded matrix before the engine accepts it.
func Validate(m *Matrix) Report {
	var rep Report
	if m == nil || len(m.Data) == 0 || m.Cells <= 0 || m.Frames <= 0 {
		rep.Errors = append(rep.Errors, "empty array")
		return rep
	}

	finite := 0
	sum := 0.0
	rep.Stats.Min = math.Inf(1)
	rep.Stats.Max = math.Inf(-1)
	for _, v := range m.Data {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			rep.Stats.NaNCount++
		case math.IsInf(f, 0):
			rep.Stats.InfCount++
		default:
			finite++
			sum += f
			if f < rep.Stats.Min {
				rep.Stats.Min = f
			}
			if f > rep.Stats.Max {
				rep.Stats.Max = f
			}
		}
	}
	if finite == 0 {
		rep.Errors = append(rep.Errors, "array contains no finite values")
		return rep
	}
	rep.Stats.Mean = sum / float64(finite)

	if rep.Stats.NaNCount > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d NaN values will be ignored", rep.Stats.NaNCount))
	}
	if rep.Stats.InfCount > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%d Inf values will be ignored", rep.Stats.InfCount))
	}
	if m.Cells > m.Frames {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("%d cells x %d frames: more cells than timepoints, axes may be swapped", m.Cells, m.Frames))
	}
	rep.Valid = true
	return rep
}
