package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the authoritative record of a held asset. Quantity and prices
// are decimals so repeated partial fills never accumulate float drift.
type Position struct {
	Asset        string
	Quantity     decimal.Decimal
	AvgEntry     decimal.Decimal
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
	OpenedAt     time.Time
	RealizedPnL  decimal.Decimal
	ExitInFlight bool
}

// Unrealized returns the mark-to-market P&L of the position at the given
// price.
func (p Position) Unrealized(price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Sub(p.AvgEntry).Mul(p.Quantity)
}

type positionRecord struct {
	Asset        string `json:"asset"`
	Quantity     string `json:"quantity"`
	AvgEntry     string `json:"avg_entry"`
	StopLoss     string `json:"stop_loss"`
	TakeProfit   string `json:"take_profit"`
	OpenedAtMS   int64  `json:"opened_at_ms"`
	RealizedPnL  string `json:"realized_pnl"`
	ExitInFlight bool   `json:"exit_in_flight"`
}

func recordFromPosition(p *Position) positionRecord {
	return positionRecord{
		Asset:        p.Asset,
		Quantity:     p.Quantity.String(),
		AvgEntry:     p.AvgEntry.String(),
		StopLoss:     p.StopLoss.String(),
		TakeProfit:   p.TakeProfit.String(),
		OpenedAtMS:   p.OpenedAt.UnixMilli(),
		RealizedPnL:  p.RealizedPnL.String(),
		ExitInFlight: p.ExitInFlight,
	}
}

func (r positionRecord) position() (*Position, error) {
	quantity, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return nil, err
	}
	avgEntry, err := decimal.NewFromString(r.AvgEntry)
	if err != nil {
		return nil, err
	}
	stopLoss, err := decimal.NewFromString(r.StopLoss)
	if err != nil {
		return nil, err
	}
	takeProfit, err := decimal.NewFromString(r.TakeProfit)
	if err != nil {
		return nil, err
	}
	realized, err := decimal.NewFromString(r.RealizedPnL)
	if err != nil {
		return nil, err
	}
	return &Position{
		Asset:        r.Asset,
		Quantity:     quantity,
		AvgEntry:     avgEntry,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		OpenedAt:     time.UnixMilli(r.OpenedAtMS),
		RealizedPnL:  realized,
		ExitInFlight: r.ExitInFlight,
	}, nil
}
