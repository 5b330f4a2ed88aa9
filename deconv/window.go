package deconv

// WindowPlan describes the overlap-discard window for one solve: the solver
// runs on [PaddedStart, PaddedEnd) of the full trace and only the slice
// [ResultOffset, ResultOffset+ResultLength) of its output is emitted, which
// keeps kernel-truncation artefacts out of the visible region.
type WindowPlan struct {
	PaddedStart  int
	PaddedEnd    int
	ResultOffset int
	ResultLength int
}

// PlanWindow pads the visible region [visibleStart, visibleEnd) by
// padMult*tauDecay*fs samples on each side, clamped to [0, traceLen).
func PlanWindow(visibleStart, visibleEnd, traceLen int, tauDecay, fs, padMult float64) WindowPlan {
	if visibleStart < 0 {
		visibleStart = 0
	}
	if visibleEnd > traceLen {
		visibleEnd = traceLen
	}
	if visibleEnd < visibleStart {
		visibleEnd = visibleStart
	}
	pad := ceilSamples(padMult * tauDecay * fs)
	start := visibleStart - pad
	if start < 0 {
		start = 0
	}
	end := visibleEnd + pad
	if end > traceLen {
		end = traceLen
	}
	return WindowPlan{
		PaddedStart:  start,
		PaddedEnd:    end,
		ResultOffset: visibleStart - start,
		ResultLength: visibleEnd - visibleStart,
	}
}

// PaddedLength returns the number of samples the solver actually runs on.
func (w WindowPlan) PaddedLength() int { return w.PaddedEnd - w.PaddedStart }

func ceilSamples(v float64) int {
	n := int(v)
	if float64(n) < v {
		n++
	}
	return n
}
