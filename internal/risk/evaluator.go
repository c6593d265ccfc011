package risk

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"spl-sniper-bot/internal/detect"
	"spl-sniper-bot/internal/feed"
	"spl-sniper-bot/internal/ledger"
	"spl-sniper-bot/internal/metrics"
)

var (
	ErrDailyLossLimitExceeded = errors.New("daily loss limit exceeded")
	ErrPositionCapExceeded    = errors.New("position size cap exceeded")
	ErrHourlyTradeCapExceeded = errors.New("hourly trade cap exceeded")
	ErrNothingHeld            = errors.New("sell candidate with no open position")
	ErrAssetCoolingDown       = errors.New("asset cooling down after repeated failures")
)

// Decision is the evaluator's verdict on a candidate: the possibly resized
// candidate plus flags recording what was adjusted.
type Decision struct {
	Candidate detect.Candidate
	Resized   bool
	Clipped   bool
}

// Evaluator applies the policy snapshot and ledger state to each candidate.
// Checks run in a fixed order and short-circuit on the first failure.
type Evaluator struct {
	policy    *PolicyStore
	ledger    *ledger.Ledger
	hourly    *hourlyCounter
	cooldowns *Cooldowns
	log       *zap.Logger
	metrics   *metrics.Metrics
	degraded  atomic.Bool
}

func NewEvaluator(policy *PolicyStore, book *ledger.Ledger, cooldowns *Cooldowns, log *zap.Logger, m *metrics.Metrics) *Evaluator {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Evaluator{
		policy:    policy,
		ledger:    book,
		hourly:    newHourlyCounter(),
		cooldowns: cooldowns,
		log:       log,
		metrics:   m,
	}
}

// SetDegraded widens risk margins while the feed is degraded: candidate
// sizes are scaled down until the feed recovers.
func (e *Evaluator) SetDegraded(degraded bool) {
	e.degraded.Store(degraded)
}

func (e *Evaluator) Degraded() bool {
	return e.degraded.Load()
}

// Evaluate accepts, resizes or rejects a candidate. A reject is an expected
// outcome, not a failure; the returned error is the reason.
func (e *Evaluator) Evaluate(cand detect.Candidate) (Decision, error) {
	pol := e.policy.Load()
	decision := Decision{Candidate: cand}

	if e.degraded.Load() && pol.DegradedScale > 0 && pol.DegradedScale < 1 {
		decision.Candidate.Size = cand.Size * pol.DegradedScale
		decision.Resized = true
	}

	if pol.MaxDailyLoss > 0 && e.ledger.DailyRealizedLoss() >= pol.MaxDailyLoss {
		return e.reject(cand, ErrDailyLossLimitExceeded)
	}

	if decision.Candidate.Side == feed.SideBuy && pol.MaxPositionSize > 0 {
		held := 0.0
		if pos, ok := e.ledger.Position(cand.Asset); ok {
			held, _ = pos.Quantity.Float64()
		}
		room := pol.MaxPositionSize - held
		if room <= 0 {
			return e.reject(cand, fmt.Errorf("%w: held %v of max %v", ErrPositionCapExceeded, held, pol.MaxPositionSize))
		}
		if decision.Candidate.Size > room {
			decision.Candidate.Size = room
			decision.Resized = true
		}
	}

	if pol.MaxTradesPerHour > 0 && e.hourly.count(cand.Strategy) >= pol.MaxTradesPerHour {
		return e.reject(cand, ErrHourlyTradeCapExceeded)
	}

	if decision.Candidate.Side == feed.SideSell {
		pos, ok := e.ledger.Position(cand.Asset)
		if !ok {
			return e.reject(cand, ErrNothingHeld)
		}
		held, _ := pos.Quantity.Float64()
		if decision.Candidate.Size > held {
			decision.Candidate.Size = held
			decision.Clipped = true
		}
	}

	if e.cooldowns != nil && e.cooldowns.Active(cand.Asset) {
		return e.reject(cand, ErrAssetCoolingDown)
	}

	e.hourly.record(cand.Strategy)
	return decision, nil
}

func (e *Evaluator) reject(cand detect.Candidate, reason error) (Decision, error) {
	e.metrics.CandidatesReject.Inc()
	if e.log != nil {
		e.log.Info("candidate rejected",
			zap.String("strategy", cand.Strategy),
			zap.String("asset", cand.Asset),
			zap.String("side", string(cand.Side)),
			zap.Float64("size", cand.Size),
			zap.Error(reason))
	}
	return Decision{}, reason
}
