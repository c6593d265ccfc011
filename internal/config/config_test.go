package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{
		Snipe:  SnipeConfig{Enabled: true, BuySize: 0.5},
		Policy: PolicyConfig{MaxPositionSize: 2, MaxDailyLoss: 1},
	}
	applyDefaults(cfg)
	if cfg.Log.Level != "info" {
		t.Fatalf("expected info level, got %q", cfg.Log.Level)
	}
	if cfg.Feed.ReorderWindow != 200*time.Millisecond {
		t.Fatalf("expected 200ms reorder window, got %v", cfg.Feed.ReorderWindow)
	}
	if cfg.Exec.MaxPriorityFee <= cfg.Exec.BasePriorityFee {
		t.Fatalf("expected fee ceiling above base, got %d <= %d", cfg.Exec.MaxPriorityFee, cfg.Exec.BasePriorityFee)
	}
	if cfg.Policy.Allocation != 0.1 {
		t.Fatalf("expected 10%% allocation default, got %v", cfg.Policy.Allocation)
	}
	if cfg.Policy.MaxTradesPerHour != 10 {
		t.Fatalf("expected trades/hour default 10, got %d", cfg.Policy.MaxTradesPerHour)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("unexpected validate error: %v", err)
	}
}

func TestValidateRejectsNoStrategy(t *testing.T) {
	cfg := &Config{Policy: PolicyConfig{MaxPositionSize: 1, MaxDailyLoss: 1}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatal("expected error when no strategy is enabled")
	}
}

func TestValidateRejectsMirrorWithoutSources(t *testing.T) {
	cfg := &Config{
		Mirror: MirrorConfig{Enabled: true},
		Policy: PolicyConfig{MaxPositionSize: 1, MaxDailyLoss: 1},
	}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for mirror without source wallets")
	}
}

func TestValidateRejectsFeeCeilingBelowBase(t *testing.T) {
	cfg := &Config{
		Snipe:  SnipeConfig{Enabled: true, BuySize: 0.5},
		Policy: PolicyConfig{MaxPositionSize: 1, MaxDailyLoss: 1},
		Exec:   ExecConfig{BasePriorityFee: 10_000, MaxPriorityFee: 5_000},
	}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for fee ceiling below base")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "" +
		"log:\n  level: debug\n" +
		"snipe:\n  enabled: true\n  buy_size: 0.25\n" +
		"mirror:\n  enabled: true\n  source_wallets: [\"9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin\"]\n" +
		"policy:\n  max_position_size: 2.5\n  max_daily_loss: 1.0\n  allocation: 0.2\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Log.Level)
	}
	if cfg.Snipe.BuySize != 0.25 {
		t.Fatalf("expected buy size 0.25, got %v", cfg.Snipe.BuySize)
	}
	if cfg.Policy.Allocation != 0.2 {
		t.Fatalf("expected allocation 0.2, got %v", cfg.Policy.Allocation)
	}
	if len(cfg.Mirror.SourceWallets) != 1 {
		t.Fatalf("expected one source wallet, got %d", len(cfg.Mirror.SourceWallets))
	}
}
