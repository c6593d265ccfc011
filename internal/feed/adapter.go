package feed

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spl-sniper-bot/internal/gateway/ws"
	"spl-sniper-bot/internal/metrics"
)

const maxSeenEventIDs = 2000

// Adapter normalizes raw upstream feed messages into a single ordered stream
// of MarketEvents. Events are held in a small reorder buffer and released in
// timestamp order; events arriving after the window are emitted immediately
// and tagged late. A feed disconnect produces a synthetic degraded event so
// downstream consumers never mistake silence for calm.
type Adapter struct {
	ws      *ws.Client
	window  time.Duration
	sources []string
	log     *zap.Logger
	metrics *metrics.Metrics

	out  chan MarketEvent
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	pending   []pendingEvent
	highWater time.Time
	seen      map[string]struct{}
	seenOrder []string

	now func() time.Time
}

type pendingEvent struct {
	ev      MarketEvent
	arrived time.Time
}

func NewAdapter(wsClient *ws.Client, window time.Duration, queueSize int, sources []string, log *zap.Logger, m *metrics.Metrics) *Adapter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	a := &Adapter{
		ws:      wsClient,
		window:  window,
		sources: sources,
		log:     log,
		metrics: m,
		out:     make(chan MarketEvent, queueSize),
		done:    make(chan struct{}),
		seen:    make(map[string]struct{}),
		now:     time.Now,
	}
	if wsClient != nil {
		wsClient.OnDisconnect(a.onDisconnect)
	}
	return a
}

func (a *Adapter) Events() <-chan MarketEvent {
	return a.out
}

func (a *Adapter) Close() {
	a.once.Do(func() {
		close(a.done)
	})
}

func (a *Adapter) Run(ctx context.Context) error {
	defer a.Close()
	if err := a.ws.Connect(ctx); err != nil {
		return err
	}
	subs := []map[string]any{
		{"method": "subscribe", "subscription": map[string]any{"type": "listings"}},
		{"method": "subscribe", "subscription": map[string]any{"type": "ticks"}},
	}
	for _, wallet := range a.sources {
		subs = append(subs, map[string]any{
			"method":       "subscribe",
			"subscription": map[string]any{"type": "walletTrades", "wallet": wallet},
		})
	}
	for _, sub := range subs {
		if err := a.ws.Subscribe(ctx, sub); err != nil {
			return err
		}
	}
	go a.flushLoop(ctx)
	return a.ws.Run(ctx, a.handleMessage)
}

func (a *Adapter) handleMessage(msg json.RawMessage) {
	ev, ok := parseEvent(msg)
	if !ok {
		return
	}
	a.Ingest(ev)
}

// Ingest deduplicates an event by message id and routes it through the
// reorder buffer. Events older than the last emitted timestamp have already
// missed their window and are emitted immediately as late.
func (a *Adapter) Ingest(ev MarketEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := a.now()
	if ev.Time.IsZero() {
		ev.Time = now
	}
	a.mu.Lock()
	if _, dup := a.seen[ev.ID]; dup {
		a.mu.Unlock()
		a.metrics.EventsDeduped.Inc()
		return
	}
	a.seen[ev.ID] = struct{}{}
	a.seenOrder = append(a.seenOrder, ev.ID)
	if len(a.seenOrder) > maxSeenEventIDs {
		evict := a.seenOrder[0 : len(a.seenOrder)-maxSeenEventIDs]
		for _, id := range evict {
			delete(a.seen, id)
		}
		a.seenOrder = a.seenOrder[len(a.seenOrder)-maxSeenEventIDs:]
	}
	if a.window <= 0 {
		a.highWaterLocked(ev.Time)
		a.mu.Unlock()
		a.emit(ev)
		return
	}
	if !a.highWater.IsZero() && ev.Time.Before(a.highWater) {
		a.mu.Unlock()
		ev.Late = true
		a.metrics.EventsLate.Inc()
		a.emit(ev)
		return
	}
	idx := sort.Search(len(a.pending), func(i int) bool {
		return a.pending[i].ev.Time.After(ev.Time)
	})
	a.pending = append(a.pending, pendingEvent{})
	copy(a.pending[idx+1:], a.pending[idx:])
	a.pending[idx] = pendingEvent{ev: ev, arrived: now}
	a.mu.Unlock()
}

func (a *Adapter) flushLoop(ctx context.Context) {
	interval := a.window / 4
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case <-ticker.C:
			a.flush(a.now())
		}
	}
}

// flush releases every buffered event whose hold window has elapsed, in
// event-timestamp order. A released event whose timestamp is behind the
// emitted watermark missed its window while buffered and is tagged late.
func (a *Adapter) flush(now time.Time) {
	a.mu.Lock()
	var ready []MarketEvent
	kept := a.pending[:0]
	for _, p := range a.pending {
		if !p.arrived.Add(a.window).After(now) {
			ready = append(ready, p.ev)
		} else {
			kept = append(kept, p)
		}
	}
	a.pending = kept
	for i := range ready {
		if ready[i].Time.Before(a.highWater) {
			ready[i].Late = true
			a.metrics.EventsLate.Inc()
			continue
		}
		a.highWaterLocked(ready[i].Time)
	}
	a.mu.Unlock()
	for _, ev := range ready {
		a.emit(ev)
	}
}

func (a *Adapter) highWaterLocked(t time.Time) {
	if t.After(a.highWater) {
		a.highWater = t
	}
}

func (a *Adapter) emit(ev MarketEvent) {
	select {
	case a.out <- ev:
		a.metrics.EventsIngested.Inc()
	case <-a.done:
	}
}

func (a *Adapter) onDisconnect(err error) {
	a.metrics.FeedReconnects.Inc()
	if a.log != nil {
		a.log.Warn("feed disconnected", zap.Error(err))
	}
	a.emit(MarketEvent{
		ID:   uuid.NewString(),
		Kind: KindDegraded,
		Time: a.now(),
	})
}
