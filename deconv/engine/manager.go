package engine

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/catune/catune/deconv"
)

// CellStatus tracks where a cell is in its solve lifecycle.
type CellStatus int

const (
	// StatusStale means parameters or window changed and the cell awaits work.
	StatusStale CellStatus = iota
	// StatusSolving means a job for the cell is active on a worker.
	StatusSolving
	// StatusFresh means the latest result matches the current (params, window).
	StatusFresh
	// StatusError means the last solve failed; the cell sits out until the
	// next parameter change or a change of its window.
	StatusError
)

func (s CellStatus) String() string {
	switch s {
	case StatusStale:
		return "stale"
	case StatusSolving:
		return "solving"
	case StatusFresh:
		return "fresh"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// cell is the manager-owned state of one selected cell.
type cell struct {
	index int
	order int // stable admission order, tie-breaker in the priority sort
	trace []float32

	status    CellStatus
	iteration int
	s, r      []float32 // emitted slices (visible region only)
	filtered  []float32
	plan      deconv.WindowPlan
	visStart  int
	visEnd    int
	visible   bool

	quantum int

	// in-flight job bookkeeping; jobID == 0 means no job
	jobID        uint64
	jobWorker    int
	jobParams    deconv.Params
	jobPlan      deconv.WindowPlan
	jobIterStart int
	cancelSent   bool
}

func (c *cell) solving() bool { return c.jobID != 0 }

// command is a message processed by the manager's run loop. Each command
// applies itself against the manager state, so the loop body stays a plain
// dispatch.
type command interface {
	apply(m *Manager)
}

// Manager owns all per-cell state and the warm-start cache, and is the only
// goroutine that touches them. External callers post commands; workers post
// results. Parameter changes are debounced before dispatch so a slider drag
// coalesces into a bounded re-dispatch rate.
type Manager struct {
	cfg   *deconv.Config
	pool  *Pool
	cache *WarmCache

	cells      map[int]*cell
	params     deconv.Params
	paramsSet  bool
	activeCell int

	pending       *deconv.Params
	debounce      *time.Timer
	debounceArmed bool

	idleWorkers []int
	jobCells    map[uint64]int // jobID -> cell index; removed when the job's terminal result arrives
	nextJobID   uint64
	nextOrder   int

	metrics Metrics

	cmds chan command
	done chan struct{}
}

// NewManager starts the pool and the manager run loop.
func NewManager(cfg *deconv.Config) (*Manager, error) {
	if cfg == nil {
		cfg = deconv.DefaultConfig()
	}
	pool, err := NewPool(cfg)
	if err != nil {
		logrus.Warnf("[manager] degraded pool: %v", err)
	}
	m := &Manager{
		cfg:        cfg,
		pool:       pool,
		cache:      NewWarmCache(cfg.TauChangeThreshold),
		cells:      make(map[int]*cell),
		activeCell: -1,
		jobCells:   make(map[uint64]int),
		cmds:       make(chan command, 64),
		done:       make(chan struct{}),
	}
	m.debounce = time.NewTimer(time.Hour)
	if !m.debounce.Stop() {
		<-m.debounce.C
	}
	go m.run()
	return m, nil
}

func (m *Manager) run() {
	for {
		select {
		case c := <-m.cmds:
			if _, isStop := c.(stopCmd); isStop {
				m.shutdown()
				return
			}
			c.apply(m)
		case res := <-m.pool.Results():
			m.handleResult(res)
		case <-m.debounce.C:
			m.debounceArmed = false
			m.flushParams()
		}
		m.dispatch()
	}
}

// shutdown cancels in-flight work and drains the pool to exit cleanly.
func (m *Manager) shutdown() {
	for _, c := range m.cells {
		if c.solving() && !c.cancelSent {
			m.pool.Cancel(c.jobWorker, c.jobID)
		}
	}
	go m.pool.Close()
	for range m.pool.Results() {
		// drain until the pool closes the channel
	}
	close(m.done)
}

// post delivers a command unless the manager has stopped.
func (m *Manager) post(c command) {
	select {
	case m.cmds <- c:
	case <-m.done:
	}
}

// === external API ===

type setParamsCmd struct{ p deconv.Params }
type selectCmd struct{ traces map[int][]float32 }
type setActiveCmd struct{ index int }
type setVisibleCmd struct{ index, start, end int }
type setVisibilityCmd struct {
	index   int
	visible bool
}
type snapshotCmd struct{ reply chan Snapshot }
type cellDataCmd struct {
	index int
	reply chan CellData
}
type stopCmd struct{}

// SetParams schedules a parameter change. Changes arriving within the
// debounce window coalesce into one dispatch cycle.
func (m *Manager) SetParams(p deconv.Params) { m.post(setParamsCmd{p}) }

// Select replaces the selected cell set. New cells are admitted with their
// raw traces (ownership moves to the manager); cells absent from the new
// set are evicted and their cache entries dropped.
func (m *Manager) Select(traces map[int][]float32) { m.post(selectCmd{traces}) }

// SetActive marks the user-focused cell; it solves first.
func (m *Manager) SetActive(index int) { m.post(setActiveCmd{index}) }

// SetVisible updates a cell's visible sample range, re-planning its window.
func (m *Manager) SetVisible(index, start, end int) { m.post(setVisibleCmd{index, start, end}) }

// SetVisibility marks whether a cell's plot is on screen; visible cells
// are prioritised over hidden ones.
func (m *Manager) SetVisibility(index int, visible bool) {
	m.post(setVisibilityCmd{index, visible})
}

// Snapshot returns the observable counters: parameters, per-cell status and
// iteration counts, and engine metrics.
func (m *Manager) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	m.post(snapshotCmd{reply})
	select {
	case s := <-reply:
		return s
	case <-m.done:
		return Snapshot{}
	}
}

// CellData returns copies of a cell's latest emitted traces.
func (m *Manager) CellData(index int) CellData {
	reply := make(chan CellData, 1)
	m.post(cellDataCmd{index, reply})
	select {
	case d := <-reply:
		return d
	case <-m.done:
		return CellData{}
	}
}

// Stop cancels outstanding work and shuts the pool down. It blocks until
// the run loop has exited.
func (m *Manager) Stop() {
	m.post(stopCmd{})
	<-m.done
}

// WaitIdle blocks until no parameter change is pending and no selected cell
// is stale or solving, or the timeout elapses. Test and batch driver
// convenience.
func (m *Manager) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		snap := m.Snapshot()
		busy := snap.ParamsPending
		for _, cs := range snap.Cells {
			if cs.Status == StatusStale || cs.Status == StatusSolving {
				busy = true
				break
			}
		}
		if !busy {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// === command application ===

func (c setParamsCmd) apply(m *Manager) {
	p := c.p
	m.pending = &p
	m.armDebounce()
}

func (m *Manager) armDebounce() {
	if !m.debounce.Stop() && m.debounceArmed {
		select {
		case <-m.debounce.C:
		default:
		}
	}
	m.debounce.Reset(time.Duration(m.cfg.SolveDebounceMs) * time.Millisecond)
	m.debounceArmed = true
}

// flushParams applies the debounced parameter change: every selected cell
// goes stale and in-flight solves are cancelled.
func (m *Manager) flushParams() {
	if m.pending == nil {
		return
	}
	valid, err := m.pending.Validate()
	m.pending = nil
	if err != nil {
		logrus.Warnf("[manager] rejected params: %v", err)
		return
	}
	if m.paramsSet && valid.Equal(m.params) {
		return
	}
	m.params = valid
	m.paramsSet = true
	m.metrics.ParamChanges++
	for _, c := range m.cells {
		m.replan(c)
		m.markStale(c)
	}
}

func (c selectCmd) apply(m *Manager) {
	// Evict cells no longer selected.
	for idx, cl := range m.cells {
		if _, keep := c.traces[idx]; keep {
			continue
		}
		if cl.solving() {
			if !cl.cancelSent {
				m.pool.Cancel(cl.jobWorker, cl.jobID)
				cl.cancelSent = true
			}
			// The jobCells entry stays until the terminal result arrives
			// and frees the worker; the cell itself is gone.
		}
		m.cache.Invalidate(idx)
		delete(m.cells, idx)
	}
	// Admit new cells.
	for idx, trace := range c.traces {
		if _, exists := m.cells[idx]; exists {
			continue
		}
		cl := &cell{
			index:    idx,
			order:    m.nextOrder,
			trace:    trace,
			status:   StatusStale,
			visStart: 0,
			visEnd:   len(trace),
			quantum:  m.cfg.QuantumInitialIterations,
		}
		m.nextOrder++
		m.cells[idx] = cl
		if m.paramsSet {
			m.replan(cl)
		}
	}
}

func (c setActiveCmd) apply(m *Manager) {
	m.activeCell = c.index
}

func (c setVisibleCmd) apply(m *Manager) {
	cl, ok := m.cells[c.index]
	if !ok {
		return
	}
	cl.visStart, cl.visEnd = c.start, c.end
	if !m.paramsSet {
		return
	}
	old := cl.plan
	m.replan(cl)
	if cl.plan != old {
		m.markStale(cl)
	}
}

func (c setVisibilityCmd) apply(m *Manager) {
	if cl, ok := m.cells[c.index]; ok {
		cl.visible = c.visible
	}
}

func (c snapshotCmd) apply(m *Manager) {
	snap := Snapshot{
		Params:        m.params,
		ParamsPending: m.pending != nil,
		ActiveCell:    m.activeCell,
		Cells:         make(map[int]CellSnapshot, len(m.cells)),
		Metrics:       m.metrics,
	}
	for idx, cl := range m.cells {
		snap.Cells[idx] = CellSnapshot{
			Status:    cl.status,
			Iteration: cl.iteration,
			Visible:   cl.visible,
			HasResult: cl.s != nil,
		}
	}
	c.reply <- snap
}

func (c cellDataCmd) apply(m *Manager) {
	cl, ok := m.cells[c.index]
	if !ok {
		c.reply <- CellData{}
		return
	}
	c.reply <- CellData{
		Plan:     cl.plan,
		S:        append([]float32(nil), cl.s...),
		R:        append([]float32(nil), cl.r...),
		Filtered: append([]float32(nil), cl.filtered...),
	}
}

func (stopCmd) apply(*Manager) {}

// === scheduling ===

func (m *Manager) replan(c *cell) {
	c.plan = deconv.PlanWindow(c.visStart, c.visEnd, len(c.trace),
		m.params.TauDecay, m.params.SampleRate, m.cfg.PaddingTauMultiplier)
}

// markStale returns a cell to the ready set, cancelling an in-flight job.
func (m *Manager) markStale(c *cell) {
	if c.solving() {
		if !c.cancelSent {
			m.pool.Cancel(c.jobWorker, c.jobID)
			c.cancelSent = true
		}
		// The terminal message will requeue the cell.
		return
	}
	c.status = StatusStale
	c.quantum = m.cfg.QuantumInitialIterations
}

// staleCells returns the dispatchable cells in priority order: the active
// cell first, then visible cells, then the rest in stable admission order.
// A cell requeued after spending its quantum is given a new order number,
// which places it at the tail of its class.
func (m *Manager) staleCells() []*cell {
	ready := make([]*cell, 0, len(m.cells))
	for _, c := range m.cells {
		if c.status == StatusStale && !c.solving() {
			ready = append(ready, c)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		ci, cj := ready[i], ready[j]
		ai, aj := ci.index == m.activeCell, cj.index == m.activeCell
		if ai != aj {
			return ai
		}
		if ci.visible != cj.visible {
			return ci.visible
		}
		return ci.order < cj.order
	})
	return ready
}

// dispatch hands stale cells to idle workers in priority order. When stale
// cells outnumber workers, each job carries a bounded iteration quantum so
// workers cycle through cells instead of running one to convergence.
func (m *Manager) dispatch() {
	if !m.paramsSet {
		return
	}
	ready := m.staleCells()
	if len(ready) == 0 || len(m.idleWorkers) == 0 {
		return
	}
	fairShare := len(ready)+m.countSolving() > m.pool.Size()
	for _, c := range ready {
		if len(m.idleWorkers) == 0 {
			return
		}
		if c.plan.PaddedLength() < deconv.KernelLength(m.params.TauDecay, m.params.SampleRate) {
			c.status = StatusError
			logrus.Warnf("[manager] cell %d window of %d samples is shorter than the kernel", c.index, c.plan.PaddedLength())
			continue
		}
		workerID := m.idleWorkers[len(m.idleWorkers)-1]
		m.idleWorkers = m.idleWorkers[:len(m.idleWorkers)-1]

		m.nextJobID++
		jobID := m.nextJobID

		entry := m.cache.Lookup(c.index)
		strategy := m.cache.Classify(entry, m.params, c.plan)
		var warm []byte
		if strategy != StrategyCold && entry != nil {
			warm = entry.State
		}

		maxIter := 0
		if fairShare {
			maxIter = c.quantum
		}

		// The window slice is copied so the request owns its buffer; the
		// cell keeps only the full raw trace.
		traceCopy := append([]float32(nil), c.trace[c.plan.PaddedStart:c.plan.PaddedEnd]...)

		c.jobID = jobID
		c.jobWorker = workerID
		c.jobParams = m.params
		c.jobPlan = c.plan
		c.jobIterStart = c.iteration
		c.cancelSent = false
		c.status = StatusSolving
		m.jobCells[jobID] = c.index
		m.metrics.SolvesDispatched++

		logrus.Debugf("[manager] job %d cell %d -> worker %d (%s, quantum %d)",
			jobID, c.index, workerID, strategy, maxIter)
		m.pool.Submit(workerID, SolveRequest{
			JobID:         jobID,
			Trace:         traceCopy,
			Params:        m.params,
			WarmState:     warm,
			Strategy:      strategy,
			MaxIterations: maxIter,
		})
	}
}

func (m *Manager) countSolving() int {
	n := 0
	for _, c := range m.cells {
		if c.solving() {
			n++
		}
	}
	return n
}

// === result handling ===

func (m *Manager) handleResult(res Result) {
	switch res.Kind {
	case ResultReady:
		m.idleWorkers = append(m.idleWorkers, res.WorkerID)
		return
	case ResultIntermediate:
		m.applyIntermediate(res)
		return
	}

	// Terminal kinds free the worker.
	m.idleWorkers = append(m.idleWorkers, res.WorkerID)
	cellIdx, known := m.jobCells[res.JobID]
	delete(m.jobCells, res.JobID)
	if !known {
		return
	}
	c, ok := m.cells[cellIdx]
	if !ok || c.jobID != res.JobID {
		// Cell evicted while the job was in flight.
		return
	}
	c.jobID = 0

	switch res.Kind {
	case ResultComplete:
		m.completeJob(c, res)
	case ResultCancelled:
		m.metrics.SolvesCancelled++
		c.status = StatusStale
	case ResultError:
		m.metrics.SolveErrors++
		m.cache.Invalidate(c.index)
		c.status = StatusError
		logrus.Warnf("[manager] cell %d solve failed: %s", c.index, res.Err)
	}
}

// applyIntermediate streams solver progress into the cell's trace fields so
// observers see the solve advance.
func (m *Manager) applyIntermediate(res Result) {
	cellIdx, known := m.jobCells[res.JobID]
	if !known {
		return
	}
	c, ok := m.cells[cellIdx]
	if !ok || c.jobID != res.JobID {
		return
	}
	m.metrics.Intermediates++
	c.iteration = res.Iterations
	c.s = emitSlice(res.S, c.jobPlan)
	c.r = emitSlice(res.R, c.jobPlan)
}

func (m *Manager) completeJob(c *cell, res Result) {
	m.metrics.SolvesCompleted++
	m.metrics.TotalIterations += res.Iterations - c.jobIterStart

	m.cache.Store(c.index, CacheEntry{
		State:  res.State,
		Params: c.jobParams,
		Window: c.jobPlan,
	})
	c.iteration = res.Iterations
	c.s = emitSlice(res.S, c.jobPlan)
	c.r = emitSlice(res.R, c.jobPlan)
	if res.Filtered != nil {
		c.filtered = emitSlice(res.Filtered, c.jobPlan)
	}

	current := c.jobParams.Equal(m.params) && c.jobPlan == c.plan
	switch {
	case !current:
		c.status = StatusStale
		c.quantum = m.cfg.QuantumInitialIterations
	case res.Converged:
		c.status = StatusFresh
	default:
		// Quantum spent; requeue warm at the tail of its class. A
		// dispatch that advanced nothing doubles the quantum (capped) to
		// cut per-dispatch overhead.
		if res.Iterations <= c.jobIterStart {
			c.quantum *= 2
			if c.quantum > m.cfg.MaxIterations {
				c.quantum = m.cfg.MaxIterations
			}
		}
		c.status = StatusStale
		c.order = m.nextOrder
		m.nextOrder++
	}
}

// emitSlice extracts the visible-region slice from a padded-window result.
func emitSlice(full []float32, plan deconv.WindowPlan) []float32 {
	if full == nil {
		return nil
	}
	end := plan.ResultOffset + plan.ResultLength
	if end > len(full) {
		end = len(full)
	}
	if plan.ResultOffset >= end {
		return []float32{}
	}
	return full[plan.ResultOffset:end]
}

// === observable state ===

// CellSnapshot is the observable state of one cell.
type CellSnapshot struct {
	Status    CellStatus
	Iteration int
	Visible   bool
	HasResult bool
}

// Snapshot is the manager's observable state.
type Snapshot struct {
	Params deconv.Params
	// ParamsPending is set while a parameter change waits out the debounce.
	ParamsPending bool
	ActiveCell    int
	Cells         map[int]CellSnapshot
	Metrics       Metrics
}

// CellData carries copies of a cell's latest emitted traces.
type CellData struct {
	Plan     deconv.WindowPlan
	S        []float32
	R        []float32
	Filtered []float32
}
