package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"spl-sniper-bot/internal/state"
)

const (
	positionKeyPrefix = "ledger:pos:"
	dailyLossKey      = "ledger:daily_loss"
)

// ErrInconsistent marks a confirmed fill that contradicts ledger state, such
// as a sell against a closed position. The affected asset must be
// quarantined by the caller.
var ErrInconsistent = errors.New("ledger inconsistency")

// Ledger is the single-writer record of open positions and realized P&L.
// Only confirmed submission results mutate it. Readers always see a fully
// applied update.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*Position
	dailyLoss decimal.Decimal
	dailyDate string
	store     state.Store
	log       *zap.Logger
	now       func() time.Time
}

func New(store state.Store, log *zap.Logger) *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
		store:     store,
		log:       log,
		now:       time.Now,
	}
}

// Restore loads persisted positions and the daily loss counter so a restart
// resumes with the same exposure picture.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	entries, err := l.store.List(ctx, positionKeyPrefix)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, raw := range entries {
		var rec positionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("decode position %s: %w", key, err)
		}
		pos, err := rec.position()
		if err != nil {
			return fmt.Errorf("restore position %s: %w", key, err)
		}
		l.positions[pos.Asset] = pos
	}
	raw, ok, err := l.store.Get(ctx, dailyLossKey)
	if err != nil {
		return err
	}
	if ok && strings.TrimSpace(raw) != "" {
		var rec dailyLossRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("decode daily loss: %w", err)
		}
		loss, err := decimal.NewFromString(rec.Loss)
		if err != nil {
			return fmt.Errorf("restore daily loss: %w", err)
		}
		l.dailyDate = rec.Date
		l.dailyLoss = loss
	}
	return nil
}

type dailyLossRecord struct {
	Date string `json:"date"`
	Loss string `json:"loss"`
}

// ApplyBuy opens or increases a position from a confirmed buy fill. The
// average entry price is recomputed as a quantity-weighted mean and the
// stop/target thresholds re-derived from it.
func (l *Ledger) ApplyBuy(ctx context.Context, asset string, qty, price, stopLossPct, takeProfitPct float64) (Position, error) {
	if qty <= 0 || price <= 0 {
		return Position{}, fmt.Errorf("%w: buy %s qty=%v price=%v", ErrInconsistent, asset, qty, price)
	}
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)

	l.mu.Lock()
	pos, ok := l.positions[asset]
	if !ok {
		pos = &Position{Asset: asset, OpenedAt: l.now()}
		l.positions[asset] = pos
	}
	cost := pos.AvgEntry.Mul(pos.Quantity).Add(p.Mul(q))
	pos.Quantity = pos.Quantity.Add(q)
	pos.AvgEntry = cost.Div(pos.Quantity)
	one := decimal.NewFromInt(1)
	pos.StopLoss = pos.AvgEntry.Mul(one.Sub(decimal.NewFromFloat(stopLossPct)))
	pos.TakeProfit = pos.AvgEntry.Mul(one.Add(decimal.NewFromFloat(takeProfitPct)))
	snapshot := *pos
	l.mu.Unlock()

	l.persistPosition(ctx, &snapshot)
	return snapshot, nil
}

// ApplySell reduces or closes a position from a confirmed sell fill and
// returns the realized P&L delta. Selling more than held, or selling with no
// open position, is a ledger inconsistency.
func (l *Ledger) ApplySell(ctx context.Context, asset string, qty, price float64) (decimal.Decimal, bool, error) {
	if qty <= 0 || price <= 0 {
		return decimal.Zero, false, fmt.Errorf("%w: sell %s qty=%v price=%v", ErrInconsistent, asset, qty, price)
	}
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)

	l.mu.Lock()
	pos, ok := l.positions[asset]
	if !ok {
		l.mu.Unlock()
		return decimal.Zero, false, fmt.Errorf("%w: sell confirmed for %s with no open position", ErrInconsistent, asset)
	}
	if q.GreaterThan(pos.Quantity) {
		l.mu.Unlock()
		return decimal.Zero, false, fmt.Errorf("%w: sell %s qty %s exceeds held %s", ErrInconsistent, asset, q, pos.Quantity)
	}
	realized := p.Sub(pos.AvgEntry).Mul(q)
	pos.Quantity = pos.Quantity.Sub(q)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	closed := pos.Quantity.IsZero()
	if closed {
		delete(l.positions, asset)
	}
	l.rollDailyLocked()
	if realized.IsNegative() {
		l.dailyLoss = l.dailyLoss.Add(realized.Neg())
	}
	dailySnapshot := dailyLossRecord{Date: l.dailyDate, Loss: l.dailyLoss.String()}
	var posSnapshot *Position
	if !closed {
		copyPos := *pos
		posSnapshot = &copyPos
	}
	l.mu.Unlock()

	if closed {
		l.deletePosition(ctx, asset)
	} else {
		l.persistPosition(ctx, posSnapshot)
	}
	l.persistDailyLoss(ctx, dailySnapshot)
	return realized, closed, nil
}

// DailyRealizedLoss returns today's accumulated realized loss as a positive
// number. The counter resets at the first trade of a new UTC day.
func (l *Ledger) DailyRealizedLoss() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDailyLocked()
	loss, _ := l.dailyLoss.Float64()
	return loss
}

func (l *Ledger) rollDailyLocked() {
	today := l.now().UTC().Format("2006-01-02")
	if l.dailyDate != today {
		l.dailyDate = today
		l.dailyLoss = decimal.Zero
	}
}

func (l *Ledger) Position(asset string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[asset]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

func (l *Ledger) Snapshot() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out
}

// SetExitInFlight flips the exit flag and reports whether the transition was
// applied. Setting it on a position that already has an exit pending, or on
// a missing position, returns false.
func (l *Ledger) SetExitInFlight(ctx context.Context, asset string, inFlight bool) bool {
	l.mu.Lock()
	pos, ok := l.positions[asset]
	if !ok || (inFlight && pos.ExitInFlight) {
		l.mu.Unlock()
		return false
	}
	pos.ExitInFlight = inFlight
	snapshot := *pos
	l.mu.Unlock()
	l.persistPosition(ctx, &snapshot)
	return true
}

func (l *Ledger) persistPosition(ctx context.Context, pos *Position) {
	if l.store == nil || pos == nil {
		return
	}
	payload, err := json.Marshal(recordFromPosition(pos))
	if err != nil {
		l.logPersistError(pos.Asset, err)
		return
	}
	if err := l.store.Set(ctx, positionKeyPrefix+pos.Asset, string(payload)); err != nil {
		l.logPersistError(pos.Asset, err)
	}
}

func (l *Ledger) deletePosition(ctx context.Context, asset string) {
	if l.store == nil {
		return
	}
	if err := l.store.Delete(ctx, positionKeyPrefix+asset); err != nil {
		l.logPersistError(asset, err)
	}
}

func (l *Ledger) persistDailyLoss(ctx context.Context, rec dailyLossRecord) {
	if l.store == nil {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		l.logPersistError("daily_loss", err)
		return
	}
	if err := l.store.Set(ctx, dailyLossKey, string(payload)); err != nil {
		l.logPersistError("daily_loss", err)
	}
}

func (l *Ledger) logPersistError(key string, err error) {
	if l.log != nil {
		l.log.Warn("ledger persistence failed", zap.String("key", key), zap.Error(err))
	}
}
