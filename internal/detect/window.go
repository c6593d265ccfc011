package detect

import (
	"time"

	"spl-sniper-bot/internal/feed"
)

type windowSample struct {
	time      time.Time
	price     float64
	liquidity float64
}

// Window is a fixed-size rolling view of recent events for a single asset.
// Strategies read it but never share it across assets.
type Window struct {
	samples []windowSample
	size    int
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = 32
	}
	return &Window{size: size}
}

func (w *Window) Append(ev feed.MarketEvent) {
	w.samples = append(w.samples, windowSample{
		time:      ev.Time,
		price:     ev.Price,
		liquidity: ev.Liquidity,
	})
	if len(w.samples) > w.size {
		w.samples = w.samples[len(w.samples)-w.size:]
	}
}

// LiquidityGrowthRate returns the fractional liquidity growth per second
// across the window, or zero when fewer than two liquidity samples exist.
func (w *Window) LiquidityGrowthRate() float64 {
	var first, last *windowSample
	for i := range w.samples {
		if w.samples[i].liquidity <= 0 {
			continue
		}
		if first == nil {
			first = &w.samples[i]
		}
		last = &w.samples[i]
	}
	if first == nil || last == nil || first == last {
		return 0
	}
	elapsed := last.time.Sub(first.time).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (last.liquidity - first.liquidity) / first.liquidity / elapsed
}

func (w *Window) LastPrice() float64 {
	for i := len(w.samples) - 1; i >= 0; i-- {
		if w.samples[i].price > 0 {
			return w.samples[i].price
		}
	}
	return 0
}

func (w *Window) Len() int {
	return len(w.samples)
}
