package deconv

import "errors"

// Sentinel error classes surfaced by the solver and its collaborators.
// Callers discriminate with errors.Is; wrapped messages carry the detail.
var (
	// ErrInvalidParams covers non-finite or non-positive tau, lambda, or
	// sampling rate. A tau_rise > tau_decay is NOT an error: Params.Validate
	// swaps the pair and warns instead. Equal taus are rejected.
	ErrInvalidParams = errors.New("invalid params")

	// ErrDimensionMismatch covers a trace shorter than the kernel (or too
	// short to filter) and stepping a solver that has no trace. A state
	// snapshot whose recorded length disagrees with the active trace is not
	// reported with it: LoadState cold-starts instead.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNumericNonFinite is raised when a NaN or Inf appears inside a
	// FISTA step. The solver halts the current solve and must be
	// re-initialised (a later SetTrace clears the condition).
	ErrNumericNonFinite = errors.New("non-finite value in iteration")

	// ErrWorkerUnavailable is reported when the requested worker count
	// cannot be provided; callers fall back to a single worker.
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrIoFormat covers malformed ingested arrays. It gates the whole
	// session and never reaches the solver.
	ErrIoFormat = errors.New("input format error")
)
