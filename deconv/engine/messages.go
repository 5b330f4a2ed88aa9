package engine

import "github.com/catune/catune/deconv"

// The host <-> worker wire protocol. Large numeric slices are moved, not
// shared: the sender gives up its reference after handing a message over,
// and the receiver owns the buffer from then on.

// SolveRequest asks a worker to run one solve. Trace is the padded window
// slice; ownership transfers to the worker. WarmState is the exception: the
// manager's warm cache keeps referencing it, and the worker only reads it.
type SolveRequest struct {
	JobID         uint64
	Trace         []float32
	Params        deconv.Params
	WarmState     []byte
	Strategy      Strategy
	MaxIterations int // soft quantum; 0 means solve to convergence
}

// ResultKind tags a worker's outbound message.
type ResultKind int

const (
	// ResultReady is emitted once per worker at startup.
	ResultReady ResultKind = iota
	// ResultIntermediate carries a progress snapshot during a solve.
	ResultIntermediate
	// ResultComplete ends an accepted solve (converged or quantum spent).
	ResultComplete
	// ResultCancelled ends an accepted solve that observed a cancel.
	ResultCancelled
	// ResultError ends an accepted solve that failed.
	ResultError
)

func (k ResultKind) String() string {
	switch k {
	case ResultReady:
		return "ready"
	case ResultIntermediate:
		return "intermediate"
	case ResultComplete:
		return "complete"
	case ResultCancelled:
		return "cancelled"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is a worker's outbound message. Exactly one Complete, Cancelled,
// or Error is sent per accepted solve; Intermediates precede it. The slice
// fields are freshly allocated per message and owned by the receiver.
type Result struct {
	Kind     ResultKind
	WorkerID int
	JobID    uint64

	S          []float32 // spike estimate over the padded window
	R          []float32 // reconvolution K*s + b
	Filtered   []float32 // filtered trace, Complete only, when filter enabled
	State      []byte    // warm-start snapshot, Complete only
	Iterations int
	Converged  bool
	Err        string // Error only
}
