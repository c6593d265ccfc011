package feed

import "time"

type EventKind string

const (
	KindListing  EventKind = "listing"
	KindTrade    EventKind = "trade"
	KindTick     EventKind = "tick"
	KindDegraded EventKind = "degraded"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// MarketEvent is the single normalized event type every upstream feed is
// translated into. Immutable once emitted.
type MarketEvent struct {
	ID              string
	Kind            EventKind
	Asset           string
	Side            Side
	Price           float64
	Size            float64
	Liquidity       float64
	FreezeAuthority bool
	TopHolderShare  float64
	Wallet          string
	Pool            string
	Time            time.Time
	Late            bool
}
