package risk

import (
	"sync/atomic"

	"spl-sniper-bot/internal/config"
)

// Policy is the immutable risk rulebook consulted on every evaluation.
// Reloads swap the whole snapshot atomically; an in-flight evaluation keeps
// the snapshot it started with.
type Policy struct {
	MaxPositionSize  float64
	MaxDailyLoss     float64
	MaxSlippage      float64
	Allocation       float64
	MaxTradesPerHour int
	StopLossPct      float64
	TakeProfitPct    float64
	DegradedScale    float64
}

func PolicyFromConfig(cfg config.PolicyConfig) Policy {
	return Policy{
		MaxPositionSize:  cfg.MaxPositionSize,
		MaxDailyLoss:     cfg.MaxDailyLoss,
		MaxSlippage:      cfg.MaxSlippage,
		Allocation:       cfg.Allocation,
		MaxTradesPerHour: cfg.MaxTradesPerHour,
		StopLossPct:      cfg.StopLossPct,
		TakeProfitPct:    cfg.TakeProfitPct,
		DegradedScale:    cfg.DegradedSizeScale,
	}
}

type PolicyStore struct {
	current atomic.Pointer[Policy]
}

func NewPolicyStore(p Policy) *PolicyStore {
	s := &PolicyStore{}
	s.current.Store(&p)
	return s
}

func (s *PolicyStore) Load() Policy {
	return *s.current.Load()
}

func (s *PolicyStore) Replace(p Policy) {
	s.current.Store(&p)
}
