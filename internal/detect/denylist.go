package detect

import (
	"sync"
	"time"
)

// Denylist holds assets that tripped a scam heuristic. Entries expire after
// the configured TTL so a false positive does not ban an asset forever.
type Denylist struct {
	mu      sync.Mutex
	entries map[string]denyEntry
	ttl     time.Duration
	now     func() time.Time
}

type denyEntry struct {
	reason  string
	expires time.Time
}

func NewDenylist(ttl time.Duration) *Denylist {
	return &Denylist{
		entries: make(map[string]denyEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (d *Denylist) Add(asset, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[asset] = denyEntry{reason: reason, expires: d.now().Add(d.ttl)}
}

func (d *Denylist) Contains(asset string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[asset]
	if !ok {
		return "", false
	}
	if d.now().After(entry.expires) {
		delete(d.entries, asset)
		return "", false
	}
	return entry.reason, true
}
