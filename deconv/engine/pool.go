package engine

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/catune/catune/deconv"
)

// Pool size bounds. More than eight solver workers yields no interactive
// benefit and fragments the warm caches' usefulness.
const (
	minWorkers = 2
	maxWorkers = 8
)

// ResolveWorkerCount maps a requested worker count (0 = hardware
// parallelism) into the supported [2, 8] range.
func ResolveWorkerCount(requested int) int {
	n := requested
	if n == 0 {
		n = runtime.NumCPU()
	}
	if n < minWorkers {
		n = minWorkers
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}

// Pool owns P long-lived solver workers. Each worker processes one job at a
// time and observes cancellation between iteration batches. All results
// from all workers arrive on the shared Results channel.
type Pool struct {
	cfg     *deconv.Config
	workers []*worker
	results chan Result
	wg      sync.WaitGroup
	closed  bool
}

// NewPool starts the workers. A negative requested count cannot be served:
// the pool falls back to a single worker and reports ErrWorkerUnavailable
// alongside the (usable) pool.
func NewPool(cfg *deconv.Config) (*Pool, error) {
	if cfg == nil {
		cfg = deconv.DefaultConfig()
	}
	var fallback error
	count := cfg.WorkerCount
	if count < 0 {
		fallback = fmt.Errorf("%w: requested %d workers", deconv.ErrWorkerUnavailable, count)
		logrus.Warnf("cannot create %d workers, falling back to 1", count)
		count = 1
	} else {
		count = ResolveWorkerCount(count)
	}

	p := &Pool{
		cfg:     cfg,
		results: make(chan Result, count*4),
	}
	for i := 0; i < count; i++ {
		w := newWorker(i, cfg, p.results)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run()
		}()
	}
	logrus.Infof("[pool] started %d solver workers", count)
	return p, fallback
}

// Size returns the worker count.
func (p *Pool) Size() int { return len(p.workers) }

// Results is the shared outbound channel for all workers.
func (p *Pool) Results() <-chan Result { return p.results }

// Submit hands a job to a specific worker. The request's buffers are moved:
// the caller must not touch them afterwards. Submit must only be called for
// a worker known to be idle (it blocks otherwise).
func (p *Pool) Submit(workerID int, req SolveRequest) {
	p.workers[workerID].jobs <- req
}

// Cancel asks the worker running jobID to abandon it. Cancels for unknown
// or already-finished jobs are ignored by the worker.
func (p *Pool) Cancel(workerID int, jobID uint64) {
	select {
	case p.workers[workerID].cancels <- jobID:
	default:
		// The cancel queue is saturated with stale IDs; the job will
		// still terminate via its quantum.
		logrus.Warnf("[pool] cancel queue full for worker %d", workerID)
	}
}

// Close shuts the workers down after their current job. It does not drain
// Results; callers stop reading once Close returns.
func (p *Pool) Close() {
	if p.closed {
		return
	}
	p.closed = true
	for _, w := range p.workers {
		close(w.jobs)
	}
	p.wg.Wait()
	close(p.results)
}
