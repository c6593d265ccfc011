package risk

import (
	"sync"
	"time"
)

// Cooldowns quarantines assets that keep failing so the pipeline stops
// retrying doomed submissions. An asset enters cooldown after the configured
// number of consecutive failures and leaves it when the timer expires or a
// submission succeeds.
type Cooldowns struct {
	mu        sync.Mutex
	failures  map[string]int
	until     map[string]time.Time
	threshold int
	duration  time.Duration
	now       func() time.Time
}

func NewCooldowns(threshold int, duration time.Duration) *Cooldowns {
	return &Cooldowns{
		failures:  make(map[string]int),
		until:     make(map[string]time.Time),
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
	}
}

func (c *Cooldowns) RecordFailure(asset string) {
	if c.threshold <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[asset]++
	if c.failures[asset] >= c.threshold {
		c.until[asset] = c.now().Add(c.duration)
		c.failures[asset] = 0
	}
}

func (c *Cooldowns) RecordSuccess(asset string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, asset)
}

func (c *Cooldowns) Active(asset string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.until[asset]
	if !ok {
		return false
	}
	if c.now().After(until) {
		delete(c.until, asset)
		return false
	}
	return true
}
