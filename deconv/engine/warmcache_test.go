package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/catune/catune/deconv"
)

var (
	cacheParams = deconv.Params{TauRise: 0.02, TauDecay: 0.4, Lambda: 0.01, SampleRate: 30}
	cacheWindow = deconv.WindowPlan{PaddedStart: 0, PaddedEnd: 1000, ResultOffset: 0, ResultLength: 1000}
)

func entryWith(p deconv.Params, w deconv.WindowPlan) *CacheEntry {
	return &CacheEntry{State: []byte{1, 2, 3}, Params: p, Window: w}
}

func TestClassify_Table(t *testing.T) {
	cache := NewWarmCache(0.20)

	mutate := func(f func(*deconv.Params, *deconv.WindowPlan)) (deconv.Params, deconv.WindowPlan) {
		p, w := cacheParams, cacheWindow
		f(&p, &w)
		return p, w
	}

	cases := []struct {
		name string
		mut  func(*deconv.Params, *deconv.WindowPlan)
		want Strategy
	}{
		{"identical params and window", func(*deconv.Params, *deconv.WindowPlan) {}, StrategyWarm},
		{"only lambda changed", func(p *deconv.Params, _ *deconv.WindowPlan) { p.Lambda = 0.05 }, StrategyWarm},
		{"window changed", func(_ *deconv.Params, w *deconv.WindowPlan) { w.PaddedStart = 10 }, StrategyCold},
		{"rate changed", func(p *deconv.Params, _ *deconv.WindowPlan) { p.SampleRate = 60 }, StrategyCold},
		{"filter toggled", func(p *deconv.Params, _ *deconv.WindowPlan) { p.FilterEnabled = true }, StrategyCold},
		{"small tau nudge", func(p *deconv.Params, _ *deconv.WindowPlan) {
			p.TauRise *= 1.1
			p.TauDecay *= 0.9
		}, StrategyWarmNoMomentum},
		{"tau_rise beyond threshold", func(p *deconv.Params, _ *deconv.WindowPlan) { p.TauRise = 0.025 }, StrategyCold},
		{"large tau change", func(p *deconv.Params, _ *deconv.WindowPlan) { p.TauDecay *= 2 }, StrategyCold},
		{"one tau small one large", func(p *deconv.Params, _ *deconv.WindowPlan) {
			p.TauRise *= 1.05
			p.TauDecay *= 1.5
		}, StrategyCold},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, w := mutate(tc.mut)
			got := cache.Classify(entryWith(cacheParams, cacheWindow), p, w)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassify_NoEntryIsCold(t *testing.T) {
	cache := NewWarmCache(0.20)
	assert.Equal(t, StrategyCold, cache.Classify(nil, cacheParams, cacheWindow))
	assert.Equal(t, StrategyCold, cache.Classify(&CacheEntry{}, cacheParams, cacheWindow))
}

func TestClassify_ThresholdOverride(t *testing.T) {
	// The 0.20 threshold is a named knob: widening it admits bigger nudges.
	cache := NewWarmCache(0.50)
	p := cacheParams
	p.TauDecay *= 1.4
	assert.Equal(t, StrategyWarmNoMomentum, cache.Classify(entryWith(cacheParams, cacheWindow), p, cacheWindow))
}

func TestWarmCache_StoreLookupInvalidate(t *testing.T) {
	cache := NewWarmCache(0.20)
	assert.Nil(t, cache.Lookup(3))

	cache.Store(3, CacheEntry{State: []byte{9}, Params: cacheParams, Window: cacheWindow})
	e := cache.Lookup(3)
	assert.NotNil(t, e)
	assert.Equal(t, []byte{9}, e.State)

	// One entry per cell: a second store overwrites.
	cache.Store(3, CacheEntry{State: []byte{7}, Params: cacheParams, Window: cacheWindow})
	assert.Equal(t, []byte{7}, cache.Lookup(3).State)

	cache.Invalidate(3)
	assert.Nil(t, cache.Lookup(3))
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "cold", StrategyCold.String())
	assert.Equal(t, "warm", StrategyWarm.String())
	assert.Equal(t, "warm-no-momentum", StrategyWarmNoMomentum.String())
}
