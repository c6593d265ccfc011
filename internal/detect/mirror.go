package detect

import (
	"strings"

	"spl-sniper-bot/internal/feed"
)

const mirrorUrgency = 0.5

// MirrorStrategy replicates trades from configured source wallets, scaled by
// the allocation percentage and pre-capped at the policy max position size.
// The risk evaluator enforces the hard cap again.
type MirrorStrategy struct {
	sources      map[string]struct{}
	allocation   float64
	minTradeSize float64
	maxPosition  float64
}

func NewMirrorStrategy(sourceWallets []string, allocation, minTradeSize, maxPosition float64) *MirrorStrategy {
	sources := make(map[string]struct{}, len(sourceWallets))
	for _, wallet := range sourceWallets {
		sources[strings.ToLower(strings.TrimSpace(wallet))] = struct{}{}
	}
	return &MirrorStrategy{
		sources:      sources,
		allocation:   allocation,
		minTradeSize: minTradeSize,
		maxPosition:  maxPosition,
	}
}

func (m *MirrorStrategy) Name() string {
	return "mirror"
}

func (m *MirrorStrategy) Detect(ev feed.MarketEvent, _ *Window) (Candidate, bool) {
	if ev.Kind != feed.KindTrade || ev.Wallet == "" {
		return Candidate{}, false
	}
	if _, watched := m.sources[ev.Wallet]; !watched {
		return Candidate{}, false
	}
	size := ev.Size * m.allocation
	if size < m.minTradeSize {
		return Candidate{}, false
	}
	if m.maxPosition > 0 && size > m.maxPosition {
		size = m.maxPosition
	}
	return Candidate{
		Asset:    ev.Asset,
		Side:     ev.Side,
		Size:     size,
		Urgency:  mirrorUrgency,
		Strategy: m.Name(),
		EventID:  ev.ID,
		Price:    ev.Price,
	}, true
}
