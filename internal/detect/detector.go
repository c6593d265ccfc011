package detect

import (
	"sync"

	"go.uber.org/zap"

	"spl-sniper-bot/internal/feed"
	"spl-sniper-bot/internal/metrics"
)

// Candidate is a proposed action. It carries everything the risk evaluator
// needs to accept, resize or reject it.
type Candidate struct {
	Asset    string
	Side     feed.Side
	Size     float64
	Urgency  float64
	Strategy string
	EventID  string
	Price    float64
}

// Strategy turns a market event plus the asset's rolling window into zero or
// one candidate. Implementations must be pure apart from their own denylist
// bookkeeping.
type Strategy interface {
	Name() string
	Detect(ev feed.MarketEvent, w *Window) (Candidate, bool)
}

// lateUrgencyScale dampens candidates born from events that missed the
// reorder window; their prices are already stale.
const lateUrgencyScale = 0.5

type Detector struct {
	strategies []Strategy
	windowSize int
	log        *zap.Logger
	metrics    *metrics.Metrics

	mu      sync.Mutex
	windows map[string]*Window
}

func NewDetector(strategies []Strategy, windowSize int, log *zap.Logger, m *metrics.Metrics) *Detector {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Detector{
		strategies: strategies,
		windowSize: windowSize,
		log:        log,
		metrics:    m,
		windows:    make(map[string]*Window),
	}
}

// Handle records the event in the asset's window and runs every strategy
// against it. Degraded events carry no asset and produce no candidates.
func (d *Detector) Handle(ev feed.MarketEvent) []Candidate {
	if ev.Kind == feed.KindDegraded || ev.Asset == "" {
		return nil
	}
	w := d.window(ev.Asset)
	w.Append(ev)
	var out []Candidate
	for _, strat := range d.strategies {
		cand, ok := strat.Detect(ev, w)
		if !ok {
			continue
		}
		if ev.Late {
			cand.Urgency *= lateUrgencyScale
		}
		d.metrics.Candidates.Inc()
		if d.log != nil {
			d.log.Debug("candidate produced",
				zap.String("strategy", cand.Strategy),
				zap.String("asset", cand.Asset),
				zap.String("side", string(cand.Side)),
				zap.Float64("size", cand.Size),
				zap.Float64("urgency", cand.Urgency))
		}
		out = append(out, cand)
	}
	return out
}

func (d *Detector) window(asset string) *Window {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.windows[asset]
	if !ok {
		w = NewWindow(d.windowSize)
		d.windows[asset] = w
	}
	return w
}
