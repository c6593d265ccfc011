package risk

import (
	"sync"
	"time"
)

// hourlyCounter tracks accepted trades per strategy over a sliding hour.
type hourlyCounter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

func newHourlyCounter() *hourlyCounter {
	return &hourlyCounter{
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

func (h *hourlyCounter) count(strategy string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pruneLocked(strategy))
}

func (h *hourlyCounter) record(strategy string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[strategy] = append(h.pruneLocked(strategy), h.now())
}

func (h *hourlyCounter) pruneLocked(strategy string) []time.Time {
	cutoff := h.now().Add(-time.Hour)
	kept := h.events[strategy][:0]
	for _, t := range h.events[strategy] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.events[strategy] = kept
	return kept
}
