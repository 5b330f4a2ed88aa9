// Package engine runs solves across cells: a pool of long-lived solver
// workers, a per-cell warm-start cache, and a manager that schedules,
// debounces, and cancels work as parameters and windows change.
package engine

import (
	"fmt"
	"math"

	"github.com/catune/catune/deconv"
)

// Strategy selects how a dispatched solve is initialised.
type Strategy int

const (
	// StrategyCold zero-initialises the solution.
	StrategyCold Strategy = iota
	// StrategyWarm loads the cached snapshot as-is.
	StrategyWarm
	// StrategyWarmNoMomentum loads the snapshot, then drops the FISTA
	// momentum (the kernel changed, the solution magnitude is still useful).
	StrategyWarmNoMomentum
)

func (s Strategy) String() string {
	switch s {
	case StrategyCold:
		return "cold"
	case StrategyWarm:
		return "warm"
	case StrategyWarmNoMomentum:
		return "warm-no-momentum"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// CacheEntry is the warm-start state of one cell: the solver snapshot of
// the last completed solve together with the parameters and padded window
// it was produced under. Exactly one entry per cell, overwritten on each
// completion.
type CacheEntry struct {
	State  []byte
	Params deconv.Params
	Window deconv.WindowPlan
}

// WarmCache holds at most one entry per cell and classifies how much of a
// cached solution survives a parameter or window change.
type WarmCache struct {
	// Threshold is the relative tau change under which a snapshot is
	// still a useful initialiser without momentum. Exposed for test
	// overrides.
	Threshold float64

	entries map[int]*CacheEntry
}

// NewWarmCache creates an empty cache with the configured tau threshold.
func NewWarmCache(threshold float64) *WarmCache {
	return &WarmCache{Threshold: threshold, entries: make(map[int]*CacheEntry)}
}

// Classify decides the warm-start strategy for re-solving a cell under new
// parameters and window given its cached entry (nil means never solved).
//
//	no entry, window change, rate change, or filter change -> cold
//	identical taus (only lambda may differ)                -> warm
//	both relative tau changes below Threshold              -> warm-no-momentum
//	otherwise                                              -> cold
func (c *WarmCache) Classify(entry *CacheEntry, p deconv.Params, w deconv.WindowPlan) Strategy {
	if entry == nil || len(entry.State) == 0 {
		return StrategyCold
	}
	if entry.Window != w {
		return StrategyCold
	}
	if entry.Params.SampleRate != p.SampleRate || entry.Params.FilterEnabled != p.FilterEnabled {
		return StrategyCold
	}
	if entry.Params.TauRise == p.TauRise && entry.Params.TauDecay == p.TauDecay {
		return StrategyWarm
	}
	dRise := math.Abs(p.TauRise-entry.Params.TauRise) / entry.Params.TauRise
	dDecay := math.Abs(p.TauDecay-entry.Params.TauDecay) / entry.Params.TauDecay
	if dRise < c.Threshold && dDecay < c.Threshold {
		return StrategyWarmNoMomentum
	}
	return StrategyCold
}

// Lookup returns the cell's entry, or nil.
func (c *WarmCache) Lookup(cell int) *CacheEntry {
	return c.entries[cell]
}

// Store overwrites the cell's entry.
func (c *WarmCache) Store(cell int, e CacheEntry) {
	c.entries[cell] = &e
}

// Invalidate drops the cell's entry (on eviction or numeric failure).
func (c *WarmCache) Invalidate(cell int) {
	delete(c.entries, cell)
}
