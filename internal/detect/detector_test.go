package detect

import (
	"fmt"
	"testing"
	"time"

	"spl-sniper-bot/internal/feed"
	"spl-sniper-bot/internal/metrics"

	"go.uber.org/zap"
)

func listing(id, asset string, liquidity float64) feed.MarketEvent {
	return feed.MarketEvent{
		ID:        id,
		Kind:      feed.KindListing,
		Asset:     asset,
		Liquidity: liquidity,
		Price:     0.0001,
		Time:      time.Now(),
	}
}

func TestSnipeFiresOnQualifyingListing(t *testing.T) {
	strat := NewSnipeStrategy(0.5, 1000, 0.5, NewDenylist(time.Hour))
	d := NewDetector([]Strategy{strat}, 32, zap.NewNop(), metrics.NewNoop())

	cands := d.Handle(listing("evt-1", "mintX", 1500))
	if len(cands) != 1 {
		t.Fatalf("expected exactly one candidate, got %d", len(cands))
	}
	c := cands[0]
	if c.Side != feed.SideBuy || c.Asset != "mintX" || c.Strategy != "snipe" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
	if c.Size != 0.5 || c.EventID != "evt-1" {
		t.Fatalf("unexpected candidate fields: %+v", c)
	}
}

func TestSnipeRejectsBelowLiquidityThreshold(t *testing.T) {
	strat := NewSnipeStrategy(0.5, 1000, 0.5, NewDenylist(time.Hour))
	d := NewDetector([]Strategy{strat}, 32, zap.NewNop(), metrics.NewNoop())
	if cands := d.Handle(listing("evt-1", "mintX", 999)); len(cands) != 0 {
		t.Fatalf("expected no candidates, got %+v", cands)
	}
}

func TestSnipeDenylistsFreezeAuthority(t *testing.T) {
	denylist := NewDenylist(time.Hour)
	strat := NewSnipeStrategy(0.5, 1000, 0.5, denylist)
	ev := listing("evt-1", "mintX", 5000)
	ev.FreezeAuthority = true
	if _, ok := strat.Detect(ev, NewWindow(32)); ok {
		t.Fatal("expected freeze authority listing to be rejected")
	}
	if reason, denied := denylist.Contains("mintX"); !denied || reason == "" {
		t.Fatal("expected asset on denylist")
	}
	// A later clean-looking listing for the same asset still skipped.
	if _, ok := strat.Detect(listing("evt-2", "mintX", 5000), NewWindow(32)); ok {
		t.Fatal("expected denylisted asset to be skipped")
	}
}

func TestSnipeDenylistsHolderConcentration(t *testing.T) {
	denylist := NewDenylist(time.Hour)
	strat := NewSnipeStrategy(0.5, 1000, 0.5, denylist)
	ev := listing("evt-1", "mintX", 5000)
	ev.TopHolderShare = 0.9
	if _, ok := strat.Detect(ev, NewWindow(32)); ok {
		t.Fatal("expected concentrated listing to be rejected")
	}
	if _, denied := denylist.Contains("mintX"); !denied {
		t.Fatal("expected asset on denylist")
	}
}

func TestDenylistExpiry(t *testing.T) {
	denylist := NewDenylist(time.Hour)
	now := time.Now()
	denylist.now = func() time.Time { return now }
	denylist.Add("mintX", "holder concentration")
	if _, denied := denylist.Contains("mintX"); !denied {
		t.Fatal("expected entry present before ttl")
	}
	now = now.Add(2 * time.Hour)
	if _, denied := denylist.Contains("mintX"); denied {
		t.Fatal("expected entry expired after ttl")
	}
}

func TestSnipeUrgencyGrowsWithLiquidity(t *testing.T) {
	strat := NewSnipeStrategy(0.5, 1000, 0.5, NewDenylist(time.Hour))
	base := time.Now()

	w := NewWindow(32)
	w.Append(feed.MarketEvent{Kind: feed.KindTick, Asset: "mintX", Liquidity: 1000, Time: base})
	w.Append(feed.MarketEvent{Kind: feed.KindTick, Asset: "mintX", Liquidity: 3000, Time: base.Add(time.Second)})

	ev := listing("evt-1", "mintX", 3000)
	ev.Time = base.Add(time.Second)
	w.Append(ev)
	fast, ok := strat.Detect(ev, w)
	if !ok {
		t.Fatal("expected candidate")
	}

	flat, ok := strat.Detect(listing("evt-2", "mintY", 3000), NewWindow(32))
	if !ok {
		t.Fatal("expected candidate")
	}
	if fast.Urgency <= flat.Urgency {
		t.Fatalf("expected growth to raise urgency: fast=%v flat=%v", fast.Urgency, flat.Urgency)
	}
	if fast.Urgency > 1 || flat.Urgency < 0 {
		t.Fatalf("urgency out of range: fast=%v flat=%v", fast.Urgency, flat.Urgency)
	}
}

func TestMirrorScalesByAllocation(t *testing.T) {
	strat := NewMirrorStrategy([]string{"Wallet1"}, 0.1, 0.01, 0)
	ev := feed.MarketEvent{
		ID:     "evt-1",
		Kind:   feed.KindTrade,
		Asset:  "mintX",
		Side:   feed.SideBuy,
		Wallet: "wallet1",
		Size:   10,
		Price:  0.5,
		Time:   time.Now(),
	}
	c, ok := strat.Detect(ev, nil)
	if !ok {
		t.Fatal("expected mirror candidate")
	}
	if c.Size != 1 {
		t.Fatalf("expected size 1 from 10 units at 10%%, got %v", c.Size)
	}
	if c.Side != feed.SideBuy || c.Strategy != "mirror" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
}

func TestMirrorIgnoresUnknownWalletsAndDust(t *testing.T) {
	strat := NewMirrorStrategy([]string{"wallet1"}, 0.1, 0.01, 2)
	ev := feed.MarketEvent{Kind: feed.KindTrade, Asset: "mintX", Side: feed.SideSell, Wallet: "other", Size: 10}
	if _, ok := strat.Detect(ev, nil); ok {
		t.Fatal("expected unknown wallet to be ignored")
	}
	ev.Wallet = "wallet1"
	ev.Size = 0.05
	if _, ok := strat.Detect(ev, nil); ok {
		t.Fatal("expected dust trade to be ignored")
	}
	ev.Size = 100
	c, ok := strat.Detect(ev, nil)
	if !ok {
		t.Fatal("expected candidate")
	}
	if c.Size != 2 {
		t.Fatalf("expected pre-cap at 2, got %v", c.Size)
	}
}

func TestLateEventsReduceUrgency(t *testing.T) {
	strat := NewSnipeStrategy(0.5, 1000, 0.5, NewDenylist(time.Hour))
	d := NewDetector([]Strategy{strat}, 32, zap.NewNop(), metrics.NewNoop())

	ev := listing("evt-1", "mintX", 1500)
	ev.Late = true
	cands := d.Handle(ev)
	if len(cands) != 1 {
		t.Fatalf("expected one candidate, got %d", len(cands))
	}
	fresh, _ := strat.Detect(listing("evt-2", "mintY", 1500), NewWindow(32))
	if cands[0].Urgency >= fresh.Urgency {
		t.Fatalf("expected late candidate dampened: late=%v fresh=%v", cands[0].Urgency, fresh.Urgency)
	}
}

func TestDetectorIsolatesWindowsPerAsset(t *testing.T) {
	d := NewDetector(nil, 4, zap.NewNop(), metrics.NewNoop())
	base := time.Now()
	for i := 0; i < 6; i++ {
		d.Handle(feed.MarketEvent{
			ID:    fmt.Sprintf("a-%d", i),
			Kind:  feed.KindTick,
			Asset: "mintA",
			Price: 1,
			Time:  base.Add(time.Duration(i) * time.Second),
		})
	}
	d.Handle(feed.MarketEvent{ID: "b-0", Kind: feed.KindTick, Asset: "mintB", Price: 2, Time: base})

	if got := d.window("mintA").Len(); got != 4 {
		t.Fatalf("expected mintA window trimmed to 4, got %d", got)
	}
	if got := d.window("mintB").Len(); got != 1 {
		t.Fatalf("expected mintB window of 1, got %d", got)
	}
	if d.window("mintB").LastPrice() != 2 {
		t.Fatal("windows leaked across assets")
	}
}
