package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spl-sniper-bot/internal/detect"
	"spl-sniper-bot/internal/exec"
	"spl-sniper-bot/internal/feed"
	"spl-sniper-bot/internal/ledger"
	"spl-sniper-bot/internal/risk"

	"go.uber.org/zap"
)

const exitStrategyName = "exit"

// dispatch routes a candidate to its asset's worker. One worker per asset
// keeps order effects sequential: a confirmed buy is applied to the ledger
// before the next candidate for the same asset is evaluated.
func (a *App) dispatch(ctx context.Context, cand detect.Candidate) {
	a.workMu.Lock()
	if _, bad := a.quarantined[cand.Asset]; bad {
		a.workMu.Unlock()
		a.log.Debug("candidate dropped for quarantined asset", zap.String("asset", cand.Asset))
		a.releaseExit(ctx, cand)
		return
	}
	queue, ok := a.workers[cand.Asset]
	if !ok {
		queue = make(chan detect.Candidate, workerQueueSize)
		a.workers[cand.Asset] = queue
		a.wg.Add(1)
		go a.worker(ctx, cand.Asset, queue)
	}
	a.workMu.Unlock()

	select {
	case queue <- cand:
	default:
		a.log.Warn("worker queue full, dropping candidate",
			zap.String("asset", cand.Asset),
			zap.String("strategy", cand.Strategy))
		a.releaseExit(ctx, cand)
	}
}

func (a *App) worker(ctx context.Context, asset string, queue <-chan detect.Candidate) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cand := <-queue:
			a.processCandidate(ctx, cand)
		}
	}
}

func (a *App) processCandidate(ctx context.Context, cand detect.Candidate) {
	if a.isPaused() {
		a.rejectCandidate(ctx, cand, "trading paused")
		return
	}
	a.workMu.Lock()
	_, bad := a.quarantined[cand.Asset]
	a.workMu.Unlock()
	if bad {
		a.rejectCandidate(ctx, cand, "asset quarantined")
		return
	}

	decision, err := a.evaluator.Evaluate(cand)
	if err != nil {
		a.rejectCandidate(ctx, cand, err.Error())
		return
	}
	pol := a.policy.Load()
	order, err := a.submitter.BuildOrder(decision.Candidate, pol.MaxSlippage, decision.Clipped)
	if err != nil {
		a.log.Error("order build failed", zap.String("asset", cand.Asset), zap.Error(err))
		a.releaseExit(ctx, cand)
		return
	}
	result, err := a.submitter.Submit(ctx, order)
	if err != nil {
		a.log.Error("submission failed", zap.String("asset", cand.Asset), zap.Error(err))
		a.releaseExit(ctx, cand)
		return
	}
	a.reports.EnqueueSubmission(submissionRecord(result))
	a.finishOrder(ctx, result, pol)
}

func (a *App) rejectCandidate(ctx context.Context, cand detect.Candidate, reason string) {
	a.reports.EnqueueRejection(rejectionRecord(cand, reason))
	a.releaseExit(ctx, cand)
}

// finishOrder applies the terminal submission result to the ledger and the
// cooldown book. A timed-out order stays tracked until reconciliation settles
// it one way or the other.
func (a *App) finishOrder(ctx context.Context, result exec.SubmissionResult, pol risk.Policy) {
	order := result.Order
	switch result.Status {
	case exec.StateConfirmed:
		a.cooldowns.RecordSuccess(order.Asset)
		a.applyFill(ctx, result, pol)
	case exec.StateFailed:
		a.cooldowns.RecordFailure(order.Asset)
		a.log.Warn("order failed",
			zap.String("asset", order.Asset),
			zap.String("side", string(order.Side)),
			zap.String("error", result.Error))
		a.releaseExitOrder(ctx, order)
	case exec.StateTimedOut:
		a.cooldowns.RecordFailure(order.Asset)
		a.trackTimeout(order.IdempotencyKey)
		a.log.Warn("order confirmation timed out",
			zap.String("asset", order.Asset),
			zap.String("signature", result.Signature))
		a.releaseExitOrder(ctx, order)
	case exec.StateCancelled:
		a.releaseExitOrder(ctx, order)
	}
}

// applyFill mutates the ledger from a confirmed fill. Gateways that omit fill
// details fall back to the order's requested price and amount.
func (a *App) applyFill(ctx context.Context, result exec.SubmissionResult, pol risk.Policy) {
	order := result.Order
	fillPrice := result.FillPrice
	if fillPrice <= 0 {
		fillPrice = order.Price
	}
	fillAmount := result.FillAmount
	if fillAmount <= 0 {
		fillAmount = order.Amount
	}

	if order.Side == feed.SideBuy {
		pos, err := a.book.ApplyBuy(ctx, order.Asset, fillAmount, fillPrice, pol.StopLossPct, pol.TakeProfitPct)
		if err != nil {
			a.handleLedgerError(ctx, order.Asset, err)
			return
		}
		quantity, _ := pos.Quantity.Float64()
		avgEntry, _ := pos.AvgEntry.Float64()
		a.reports.EnqueuePositionChange(positionRecord(order.Asset, quantity, avgEntry, 0, false))
		a.log.Info("position opened or increased",
			zap.String("asset", order.Asset),
			zap.Float64("quantity", quantity),
			zap.Float64("avg_entry", avgEntry))
		a.sendAlert(ctx, fmt.Sprintf("Bought %.6f %s @ %.8f (%s)", fillAmount, order.Asset, fillPrice, order.Strategy))
		return
	}

	realized, closed, err := a.book.ApplySell(ctx, order.Asset, fillAmount, fillPrice)
	if err != nil {
		a.handleLedgerError(ctx, order.Asset, err)
		return
	}
	realizedF, _ := realized.Float64()
	quantity, avgEntry := 0.0, 0.0
	if pos, ok := a.book.Position(order.Asset); ok {
		quantity, _ = pos.Quantity.Float64()
		avgEntry, _ = pos.AvgEntry.Float64()
	}
	a.reports.EnqueuePositionChange(positionRecord(order.Asset, quantity, avgEntry, realizedF, closed))
	a.log.Info("position reduced or closed",
		zap.String("asset", order.Asset),
		zap.Bool("closed", closed),
		zap.Float64("realized_pnl", realizedF))
	a.sendAlert(ctx, fmt.Sprintf("Sold %.6f %s @ %.8f pnl %.6f (%s)", fillAmount, order.Asset, fillPrice, realizedF, order.Strategy))
	a.releaseExitOrder(ctx, order)
}

// handleLedgerError quarantines an asset whose confirmed fill contradicts the
// ledger. No further candidates for the asset are processed until restart.
func (a *App) handleLedgerError(ctx context.Context, asset string, err error) {
	if !errors.Is(err, ledger.ErrInconsistent) {
		a.log.Error("ledger apply failed", zap.String("asset", asset), zap.Error(err))
		return
	}
	a.workMu.Lock()
	_, already := a.quarantined[asset]
	a.quarantined[asset] = struct{}{}
	a.workMu.Unlock()
	if already {
		return
	}
	a.metrics.AssetsQuarantine.Inc()
	a.denylist.Add(asset, "ledger inconsistency")
	a.log.Error("asset quarantined after ledger inconsistency", zap.String("asset", asset), zap.Error(err))
	a.sendAlert(ctx, fmt.Sprintf("Asset %s quarantined: %v", asset, err))
}

func (a *App) releaseExit(ctx context.Context, cand detect.Candidate) {
	if cand.Strategy == exitStrategyName {
		a.exits.Release(ctx, cand.Asset)
	}
}

func (a *App) releaseExitOrder(ctx context.Context, order exec.Order) {
	if order.Strategy == exitStrategyName {
		a.exits.Release(ctx, order.Asset)
	}
}

func (a *App) trackTimeout(idempotencyKey string) {
	a.workMu.Lock()
	defer a.workMu.Unlock()
	a.timeouts[idempotencyKey] = struct{}{}
}

// reconcileLoop re-polls timed-out orders. A late confirmation is applied to
// the ledger exactly as a prompt one would have been.
func (a *App) reconcileLoop(ctx context.Context) {
	interval := a.cfg.Exec.ConfirmTimeout
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reconcileTimeouts(ctx)
		}
	}
}

func (a *App) reconcileTimeouts(ctx context.Context) {
	a.workMu.Lock()
	keys := make([]string, 0, len(a.timeouts))
	for key := range a.timeouts {
		keys = append(keys, key)
	}
	a.workMu.Unlock()

	pol := a.policy.Load()
	for _, key := range keys {
		result, changed, err := a.submitter.Reconcile(ctx, key)
		if err != nil {
			a.log.Debug("reconcile poll failed", zap.String("idempotency_key", key), zap.Error(err))
			continue
		}
		if result.Status != exec.StateTimedOut {
			a.workMu.Lock()
			delete(a.timeouts, key)
			a.workMu.Unlock()
		}
		if !changed {
			continue
		}
		a.log.Info("late confirmation reconciled",
			zap.String("asset", result.Order.Asset),
			zap.String("idempotency_key", key))
		a.reports.EnqueueSubmission(submissionRecord(result))
		a.applyFill(ctx, result, pol)
	}
}
