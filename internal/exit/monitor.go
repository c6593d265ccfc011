package exit

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spl-sniper-bot/internal/detect"
	"spl-sniper-bot/internal/feed"
	"spl-sniper-bot/internal/ledger"
	"spl-sniper-bot/internal/metrics"
)

const exitStrategy = "exit"

// Monitor watches open positions against their stop-loss and take-profit
// thresholds. A breach produces a maximal-urgency sell candidate routed
// through the normal risk and submission pipeline. The per-position
// exit-in-flight flag guarantees one pending sell at a time.
type Monitor struct {
	ledger  *ledger.Ledger
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewMonitor(book *ledger.Ledger, log *zap.Logger, m *metrics.Metrics) *Monitor {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Monitor{ledger: book, log: log, metrics: m}
}

// Check inspects a priced event against the asset's open position. It
// returns a sell candidate only when a threshold is breached and no exit is
// already pending for the position.
func (m *Monitor) Check(ctx context.Context, ev feed.MarketEvent) (detect.Candidate, bool) {
	if ev.Price <= 0 || ev.Asset == "" {
		return detect.Candidate{}, false
	}
	pos, ok := m.ledger.Position(ev.Asset)
	if !ok || pos.ExitInFlight {
		return detect.Candidate{}, false
	}
	price := decimal.NewFromFloat(ev.Price)
	reason := breach(pos, price)
	if reason == "" {
		return detect.Candidate{}, false
	}
	// The flag set can lose a race with a concurrent trigger; only the
	// winner emits the candidate.
	if !m.ledger.SetExitInFlight(ctx, ev.Asset, true) {
		return detect.Candidate{}, false
	}
	m.metrics.ExitsTriggered.Inc()
	quantity, _ := pos.Quantity.Float64()
	if m.log != nil {
		m.log.Info("exit triggered",
			zap.String("asset", ev.Asset),
			zap.String("reason", reason),
			zap.Float64("price", ev.Price),
			zap.Float64("quantity", quantity))
	}
	return detect.Candidate{
		Asset:    ev.Asset,
		Side:     feed.SideSell,
		Size:     quantity,
		Urgency:  1,
		Strategy: exitStrategy,
		EventID:  ev.ID,
		Price:    ev.Price,
	}, true
}

// Release clears the exit flag after the sell reached a terminal state, so a
// failed exit can be retried on the next breach.
func (m *Monitor) Release(ctx context.Context, asset string) {
	m.ledger.SetExitInFlight(ctx, asset, false)
}

func breach(pos ledger.Position, price decimal.Decimal) string {
	if pos.StopLoss.IsPositive() && price.LessThanOrEqual(pos.StopLoss) {
		return "stop_loss"
	}
	if pos.TakeProfit.IsPositive() && price.GreaterThanOrEqual(pos.TakeProfit) {
		return "take_profit"
	}
	return ""
}
