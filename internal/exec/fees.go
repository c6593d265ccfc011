package exec

import "sync"

// FeeSchedule maps urgency to a priority fee. The mapping is linear: base at
// urgency 0, ceiling at urgency 1. The base can be re-anchored from gateway
// fee samples but the configured ceiling is never exceeded.
type FeeSchedule struct {
	mu      sync.Mutex
	base    uint64
	ceiling uint64
}

func NewFeeSchedule(base, ceiling uint64) *FeeSchedule {
	if ceiling < base {
		ceiling = base
	}
	return &FeeSchedule{base: base, ceiling: ceiling}
}

func (f *FeeSchedule) PriorityFee(urgency float64) uint64 {
	if urgency < 0 {
		urgency = 0
	}
	if urgency > 1 {
		urgency = 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.base + uint64(urgency*float64(f.ceiling-f.base))
}

// UpdateBase raises the ramp's floor to a sampled network fee. Samples above
// the ceiling are clamped; samples below the configured base are ignored so
// a quiet network never lowers the configured minimum.
func (f *FeeSchedule) UpdateBase(configured, sampled uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	base := configured
	if sampled > base {
		base = sampled
	}
	if base > f.ceiling {
		base = f.ceiling
	}
	f.base = base
}

func (f *FeeSchedule) Base() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.base
}
