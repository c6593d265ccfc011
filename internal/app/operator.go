package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"spl-sniper-bot/internal/alerts"
	"spl-sniper-bot/internal/risk"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64        `json:"update_id"`
	Time         time.Time    `json:"time"`
	Action       string       `json:"action"`
	Command      string       `json:"command"`
	UserID       int64        `json:"user_id"`
	Username     string       `json:"username,omitempty"`
	ChatID       int64        `json:"chat_id"`
	PausedBefore bool         `json:"paused_before"`
	PausedAfter  bool         `json:"paused_after"`
	PolicyBefore *risk.Policy `json:"policy_before,omitempty"`
	PolicyAfter  *risk.Policy `json:"policy_after,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || a.log == nil {
		return
	}
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	if msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", nil, false
	}
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return a.operatorStatus(), nil
	case "pause":
		before := a.isPaused()
		after := a.setPaused(true)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "pause",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  after,
		})
		if after {
			return "trading paused", nil
		}
		return "trading already paused", nil
	case "resume":
		before := a.isPaused()
		after := a.setPaused(false)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "resume",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  after,
		})
		if !after {
			return "trading resumed", nil
		}
		return "trading already active", nil
	case "policy":
		return a.handlePolicyCommand(ctx, args, meta)
	case "help":
		return operatorHelpText(), nil
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) handlePolicyCommand(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	if len(args) == 0 || strings.EqualFold(args[0], "show") {
		return a.policyStatus(), nil
	}
	switch strings.ToLower(args[0]) {
	case "reset":
		before := a.policyOverrideSnapshot()
		a.clearPolicyOverride()
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "policy_reset",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PolicyBefore: before,
		})
		return "policy override cleared", nil
	case "set":
		overrides, err := parsePolicyOverrides(args[1:])
		if err != nil {
			return "", err
		}
		before := a.policyOverrideSnapshot()
		next, err := applyPolicyOverrides(a.policy.Load(), overrides)
		if err != nil {
			return "", err
		}
		base := risk.PolicyFromConfig(a.cfg.Policy)
		if next == base {
			a.clearPolicyOverride()
		} else {
			a.setPolicyOverride(next)
		}
		after := a.policyOverrideSnapshot()
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       "policy_set",
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PolicyBefore: before,
			PolicyAfter:  after,
		})
		return "policy override updated", nil
	default:
		return "", errors.New("unknown policy command: use /policy show|set|reset")
	}
}

func parsePolicyOverrides(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, errors.New("policy set requires key=value pairs")
	}
	out := make(map[string]string)
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid policy setting: %s", arg)
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		if key == "" || val == "" {
			return nil, fmt.Errorf("invalid policy setting: %s", arg)
		}
		out[key] = val
	}
	return out, nil
}

func applyPolicyOverrides(base risk.Policy, overrides map[string]string) (risk.Policy, error) {
	next := base
	for key, val := range overrides {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return risk.Policy{}, fmt.Errorf("%s: %w", key, err)
		}
		switch key {
		case "max_position_size":
			next.MaxPositionSize = parsed
		case "max_daily_loss":
			next.MaxDailyLoss = parsed
		case "max_slippage":
			next.MaxSlippage = parsed
		case "allocation":
			next.Allocation = parsed
		case "max_trades_per_hour":
			next.MaxTradesPerHour = int(parsed)
		case "stop_loss_pct":
			next.StopLossPct = parsed
		case "take_profit_pct":
			next.TakeProfitPct = parsed
		case "degraded_size_scale":
			next.DegradedScale = parsed
		default:
			return risk.Policy{}, fmt.Errorf("unknown policy key: %s", key)
		}
	}
	if err := validatePolicyOverride(next); err != nil {
		return risk.Policy{}, err
	}
	return next, nil
}

func validatePolicyOverride(pol risk.Policy) error {
	if pol.MaxPositionSize <= 0 {
		return errors.New("max_position_size must be > 0")
	}
	if pol.MaxDailyLoss <= 0 {
		return errors.New("max_daily_loss must be > 0")
	}
	if pol.MaxSlippage < 0 {
		return errors.New("max_slippage must be >= 0")
	}
	if pol.Allocation <= 0 || pol.Allocation > 1 {
		return errors.New("allocation must be in (0, 1]")
	}
	if pol.MaxTradesPerHour < 0 {
		return errors.New("max_trades_per_hour must be >= 0")
	}
	if pol.StopLossPct < 0 || pol.StopLossPct >= 1 {
		return errors.New("stop_loss_pct must be in [0, 1)")
	}
	if pol.TakeProfitPct < 0 {
		return errors.New("take_profit_pct must be >= 0")
	}
	if pol.DegradedScale < 0 || pol.DegradedScale > 1 {
		return errors.New("degraded_size_scale must be in [0, 1]")
	}
	return nil
}

func (a *App) operatorStatus() string {
	positions := a.book.Snapshot()
	lines := []string{
		fmt.Sprintf("paused: %t", a.isPaused()),
		fmt.Sprintf("feed_degraded: %t", a.evaluator.Degraded()),
		fmt.Sprintf("daily_realized_loss: %.6f", a.book.DailyRealizedLoss()),
		fmt.Sprintf("open_positions: %d", len(positions)),
	}
	for _, pos := range positions {
		quantity, _ := pos.Quantity.Float64()
		avgEntry, _ := pos.AvgEntry.Float64()
		lines = append(lines, fmt.Sprintf("  %s qty=%.6f avg_entry=%.8f exit_in_flight=%t",
			pos.Asset, quantity, avgEntry, pos.ExitInFlight))
	}
	a.workMu.Lock()
	quarantined := len(a.quarantined)
	a.workMu.Unlock()
	lines = append(lines,
		fmt.Sprintf("quarantined_assets: %d", quarantined),
		fmt.Sprintf("policy_override_active: %t", a.policyOverrideActive()),
	)
	return strings.Join(lines, "\n")
}

func (a *App) policyStatus() string {
	effective := a.policy.Load()
	override := a.policyOverrideSnapshot()
	lines := []string{formatPolicy("policy effective", effective)}
	if override != nil {
		lines = append(lines, formatPolicy("policy override", *override))
	} else {
		lines = append(lines, "policy override: none")
	}
	return strings.Join(lines, "\n")
}

func formatPolicy(label string, pol risk.Policy) string {
	return fmt.Sprintf("%s: max_position_size=%.4f max_daily_loss=%.4f max_slippage=%.4f allocation=%.4f max_trades_per_hour=%d stop_loss_pct=%.4f take_profit_pct=%.4f degraded_size_scale=%.4f",
		label,
		pol.MaxPositionSize,
		pol.MaxDailyLoss,
		pol.MaxSlippage,
		pol.Allocation,
		pol.MaxTradesPerHour,
		pol.StopLossPct,
		pol.TakeProfitPct,
		pol.DegradedScale,
	)
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - current bot status",
		"/pause - pause new trading actions",
		"/resume - resume trading actions",
		"/policy show - show active risk policy",
		"/policy set key=value ... - override policy (keys: max_position_size, max_daily_loss, max_slippage, allocation, max_trades_per_hour, stop_loss_pct, take_profit_pct, degraded_size_scale)",
		"/policy reset - clear policy override",
	}, "\n")
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}

func (a *App) policyOverrideActive() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.policyOverride != nil
}

func (a *App) policyOverrideSnapshot() *risk.Policy {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	if a.policyOverride == nil {
		return nil
	}
	copy := *a.policyOverride
	return &copy
}

func (a *App) setPolicyOverride(pol risk.Policy) {
	a.opsMu.Lock()
	a.policyOverride = &pol
	a.opsMu.Unlock()
	a.policy.Replace(pol)
}

func (a *App) clearPolicyOverride() {
	a.opsMu.Lock()
	a.policyOverride = nil
	a.opsMu.Unlock()
	a.policy.Replace(risk.PolicyFromConfig(a.cfg.Policy))
}

func (a *App) logOperatorError(err error) {
	if a.log == nil {
		return
	}
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	if val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
