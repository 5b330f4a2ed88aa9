package engine

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/catune/catune/deconv"
)

// worker is one long-lived solve loop. It owns a solver and its buffers;
// nothing is shared with the host beyond the message channels. Between
// iteration batches it drains its cancel channel, which bounds cancel
// latency to one batch.
type worker struct {
	id      int
	cfg     *deconv.Config
	solver  *deconv.Solver
	jobs    chan SolveRequest
	cancels chan uint64
	results chan<- Result
}

func newWorker(id int, cfg *deconv.Config, results chan<- Result) *worker {
	return &worker{
		id:      id,
		cfg:     cfg,
		solver:  deconv.NewSolver(cfg),
		jobs:    make(chan SolveRequest, 1),
		cancels: make(chan uint64, 16),
		results: results,
	}
}

func (w *worker) run() {
	w.results <- Result{Kind: ResultReady, WorkerID: w.id}
	for req := range w.jobs {
		w.solve(req)
	}
}

// drainCancels collects pending cancel IDs without blocking. Cancels for
// unknown or finished jobs are dropped here.
func (w *worker) drainCancels(current uint64) bool {
	for {
		select {
		case id := <-w.cancels:
			if id == current {
				return true
			}
			logrus.Debugf("[worker %d] stale cancel for job %d ignored", w.id, id)
		default:
			return false
		}
	}
}

func (w *worker) fail(jobID uint64, err error) {
	w.results <- Result{Kind: ResultError, WorkerID: w.id, JobID: jobID, Err: err.Error()}
}

func (w *worker) solve(req SolveRequest) {
	if w.drainCancels(req.JobID) {
		w.results <- Result{Kind: ResultCancelled, WorkerID: w.id, JobID: req.JobID}
		return
	}
	if err := w.solver.SetParams(req.Params); err != nil {
		w.fail(req.JobID, err)
		return
	}
	if err := w.solver.SetTrace(req.Trace); err != nil {
		w.fail(req.JobID, err)
		return
	}
	switch req.Strategy {
	case StrategyWarm:
		w.solver.LoadState(req.WarmState)
	case StrategyWarmNoMomentum:
		w.solver.LoadState(req.WarmState)
		w.solver.ResetMomentum()
	case StrategyCold:
		// SetTrace already cold-started.
	}

	maxIter := req.MaxIterations
	if maxIter <= 0 {
		maxIter = w.cfg.MaxIterations
	}
	startIter := w.solver.Iteration()
	interval := time.Duration(w.cfg.IntermediateIntervalMs) * time.Millisecond
	lastEmit := time.Now()

	converged := false
	for {
		var err error
		converged, err = w.solver.StepBatch(w.cfg.BatchSize)
		if err != nil {
			if errors.Is(err, deconv.ErrNumericNonFinite) {
				logrus.Warnf("[worker %d] job %d: %v", w.id, req.JobID, err)
			}
			w.fail(req.JobID, err)
			return
		}
		if w.drainCancels(req.JobID) {
			w.results <- Result{Kind: ResultCancelled, WorkerID: w.id, JobID: req.JobID}
			return
		}
		if converged || w.solver.Iteration()-startIter >= maxIter {
			break
		}
		if time.Since(lastEmit) >= interval {
			w.results <- Result{
				Kind:       ResultIntermediate,
				WorkerID:   w.id,
				JobID:      req.JobID,
				S:          w.solver.Solution(),
				R:          w.solver.Reconvolution(),
				Iterations: w.solver.Iteration(),
			}
			lastEmit = time.Now()
		}
	}

	res := Result{
		Kind:       ResultComplete,
		WorkerID:   w.id,
		JobID:      req.JobID,
		S:          w.solver.Solution(),
		R:          w.solver.Reconvolution(),
		State:      w.solver.ExportState(),
		Iterations: w.solver.Iteration(),
		Converged:  converged,
	}
	if req.Params.FilterEnabled {
		res.Filtered = w.solver.FilteredTrace()
	}
	w.results <- res
}
