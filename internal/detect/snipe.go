package detect

import (
	"spl-sniper-bot/internal/feed"
)

// SnipeStrategy buys newly listed assets that clear a minimum liquidity bar
// and none of the scam heuristics. Listings that trip a heuristic are added
// to the denylist so later events for the same asset are ignored too.
type SnipeStrategy struct {
	buySize      float64
	minLiquidity float64
	maxTopHolder float64
	denylist     *Denylist
}

func NewSnipeStrategy(buySize, minLiquidity, maxTopHolder float64, denylist *Denylist) *SnipeStrategy {
	return &SnipeStrategy{
		buySize:      buySize,
		minLiquidity: minLiquidity,
		maxTopHolder: maxTopHolder,
		denylist:     denylist,
	}
}

func (s *SnipeStrategy) Name() string {
	return "snipe"
}

func (s *SnipeStrategy) Detect(ev feed.MarketEvent, w *Window) (Candidate, bool) {
	if ev.Kind != feed.KindListing {
		return Candidate{}, false
	}
	if _, denied := s.denylist.Contains(ev.Asset); denied {
		return Candidate{}, false
	}
	if ev.FreezeAuthority {
		s.denylist.Add(ev.Asset, "freeze authority present")
		return Candidate{}, false
	}
	if s.maxTopHolder > 0 && ev.TopHolderShare > s.maxTopHolder {
		s.denylist.Add(ev.Asset, "holder concentration")
		return Candidate{}, false
	}
	if ev.Liquidity < s.minLiquidity {
		return Candidate{}, false
	}
	return Candidate{
		Asset:    ev.Asset,
		Side:     feed.SideBuy,
		Size:     s.buySize,
		Urgency:  snipeUrgency(w.LiquidityGrowthRate()),
		Strategy: s.Name(),
		EventID:  ev.ID,
		Price:    ev.Price,
	}, true
}

// snipeUrgency maps liquidity growth rate to [0, 1]. A qualifying listing
// with no observed growth starts at 0.5; each 100%/s of growth adds 0.1.
func snipeUrgency(growthRate float64) float64 {
	urgency := 0.5 + growthRate*0.1
	if urgency < 0 {
		return 0
	}
	if urgency > 1 {
		return 1
	}
	return urgency
}
