package engine

import "github.com/sirupsen/logrus"

// Metrics are the engine's observable counters, copied out in Snapshot.
type Metrics struct {
	ParamChanges     int
	SolvesDispatched int
	SolvesCompleted  int
	SolvesCancelled  int
	SolveErrors      int
	Intermediates    int
	TotalIterations  int
}

// Print logs a one-shot summary of the counters.
func (m Metrics) Print() {
	logrus.Infof("[metrics] param changes: %d", m.ParamChanges)
	logrus.Infof("[metrics] solves: %d dispatched, %d completed, %d cancelled, %d errors",
		m.SolvesDispatched, m.SolvesCompleted, m.SolvesCancelled, m.SolveErrors)
	logrus.Infof("[metrics] iterations: %d total, intermediates: %d", m.TotalIterations, m.Intermediates)
}
