package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"spl-sniper-bot/internal/state/sqlite"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func TestBuyThenEqualSellClosesWithCorrectPnL(t *testing.T) {
	l := New(nil, zap.NewNop())
	ctx := context.Background()

	pos, err := l.ApplyBuy(ctx, "mintX", 10, 2.0, 0.2, 0.5)
	if err != nil {
		t.Fatalf("apply buy: %v", err)
	}
	if !pos.Quantity.Equal(dec(t, "10")) || !pos.AvgEntry.Equal(dec(t, "2")) {
		t.Fatalf("unexpected position: %+v", pos)
	}

	realized, closed, err := l.ApplySell(ctx, "mintX", 10, 2.5)
	if err != nil {
		t.Fatalf("apply sell: %v", err)
	}
	if !closed {
		t.Fatal("expected position closed")
	}
	// (2.5 - 2.0) * 10 = 5
	if !realized.Equal(dec(t, "5")) {
		t.Fatalf("expected realized 5, got %s", realized)
	}
	if _, ok := l.Position("mintX"); ok {
		t.Fatal("expected position removed after full close")
	}
}

func TestWeightedAverageEntry(t *testing.T) {
	l := New(nil, zap.NewNop())
	ctx := context.Background()

	if _, err := l.ApplyBuy(ctx, "mintX", 10, 1.0, 0.2, 0.5); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	pos, err := l.ApplyBuy(ctx, "mintX", 10, 3.0, 0.2, 0.5)
	if err != nil {
		t.Fatalf("second buy: %v", err)
	}
	if !pos.AvgEntry.Equal(dec(t, "2")) {
		t.Fatalf("expected avg entry 2, got %s", pos.AvgEntry)
	}
	if !pos.Quantity.Equal(dec(t, "20")) {
		t.Fatalf("expected quantity 20, got %s", pos.Quantity)
	}
	// Thresholds track the recomputed entry.
	if !pos.StopLoss.Equal(dec(t, "1.6")) || !pos.TakeProfit.Equal(dec(t, "3")) {
		t.Fatalf("unexpected thresholds: stop=%s target=%s", pos.StopLoss, pos.TakeProfit)
	}
}

func TestPartialSellKeepsPosition(t *testing.T) {
	l := New(nil, zap.NewNop())
	ctx := context.Background()

	if _, err := l.ApplyBuy(ctx, "mintX", 10, 2.0, 0.2, 0.5); err != nil {
		t.Fatalf("buy: %v", err)
	}
	realized, closed, err := l.ApplySell(ctx, "mintX", 4, 1.5)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if closed {
		t.Fatal("expected position still open")
	}
	if !realized.Equal(dec(t, "-2")) {
		t.Fatalf("expected realized -2, got %s", realized)
	}
	pos, ok := l.Position("mintX")
	if !ok || !pos.Quantity.Equal(dec(t, "6")) {
		t.Fatalf("unexpected position after partial sell: %+v ok=%v", pos, ok)
	}
	if loss := l.DailyRealizedLoss(); loss != 2 {
		t.Fatalf("expected daily loss 2, got %v", loss)
	}
}

func TestSellWithoutPositionIsInconsistent(t *testing.T) {
	l := New(nil, zap.NewNop())
	if _, _, err := l.ApplySell(context.Background(), "mintX", 1, 1.0); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
}

func TestOversellIsInconsistent(t *testing.T) {
	l := New(nil, zap.NewNop())
	ctx := context.Background()
	if _, err := l.ApplyBuy(ctx, "mintX", 5, 1.0, 0.2, 0.5); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, _, err := l.ApplySell(ctx, "mintX", 6, 1.0); !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
	// Position untouched by the rejected sell.
	pos, ok := l.Position("mintX")
	if !ok || !pos.Quantity.Equal(dec(t, "5")) {
		t.Fatalf("position corrupted by rejected sell: %+v ok=%v", pos, ok)
	}
}

func TestDailyLossResetsOnNewDay(t *testing.T) {
	l := New(nil, zap.NewNop())
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if _, err := l.ApplyBuy(ctx, "mintX", 10, 2.0, 0.2, 0.5); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, _, err := l.ApplySell(ctx, "mintX", 10, 1.0); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if loss := l.DailyRealizedLoss(); loss != 10 {
		t.Fatalf("expected loss 10, got %v", loss)
	}
	now = now.Add(24 * time.Hour)
	if loss := l.DailyRealizedLoss(); loss != 0 {
		t.Fatalf("expected loss reset on new day, got %v", loss)
	}
}

func TestExitInFlightFlag(t *testing.T) {
	l := New(nil, zap.NewNop())
	ctx := context.Background()
	if _, err := l.ApplyBuy(ctx, "mintX", 10, 2.0, 0.2, 0.5); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if !l.SetExitInFlight(ctx, "mintX", true) {
		t.Fatal("expected first exit flag set to succeed")
	}
	if l.SetExitInFlight(ctx, "mintX", true) {
		t.Fatal("expected second exit flag set to fail while in flight")
	}
	if !l.SetExitInFlight(ctx, "mintX", false) {
		t.Fatal("expected clearing flag to succeed")
	}
	if l.SetExitInFlight(ctx, "missing", true) {
		t.Fatal("expected flag set on missing position to fail")
	}
}

func TestRestoreFromStore(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	first := New(store, zap.NewNop())
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	first.now = func() time.Time { return now }
	if _, err := first.ApplyBuy(ctx, "mintX", 10, 2.0, 0.2, 0.5); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, _, err := first.ApplySell(ctx, "mintX", 2, 1.0); err != nil {
		t.Fatalf("sell: %v", err)
	}

	second := New(store, zap.NewNop())
	second.now = first.now
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	pos, ok := second.Position("mintX")
	if !ok {
		t.Fatal("expected restored position")
	}
	if !pos.Quantity.Equal(dec(t, "8")) || !pos.AvgEntry.Equal(dec(t, "2")) {
		t.Fatalf("unexpected restored position: %+v", pos)
	}
	if loss := second.DailyRealizedLoss(); loss != 2 {
		t.Fatalf("expected restored daily loss 2, got %v", loss)
	}
}
