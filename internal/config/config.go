package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Feed     FeedConfig     `yaml:"feed"`
	State    StateConfig    `yaml:"state"`
	Exec     ExecConfig     `yaml:"exec"`
	Snipe    SnipeConfig    `yaml:"snipe"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Policy   PolicyConfig   `yaml:"policy"`
	Report   ReportConfig   `yaml:"report"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type GatewayConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	WSURL   string        `yaml:"ws_url"`
}

type FeedConfig struct {
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReorderWindow  time.Duration `yaml:"reorder_window"`
	QueueSize      int           `yaml:"queue_size"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type ExecConfig struct {
	BasePriorityFee   uint64        `yaml:"base_priority_fee"`
	MaxPriorityFee    uint64        `yaml:"max_priority_fee"`
	ComputeBudget     uint64        `yaml:"compute_budget"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	ConfirmPoll       time.Duration `yaml:"confirm_poll"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"`
	FailureCooldown   time.Duration `yaml:"failure_cooldown"`
	CooldownThreshold int           `yaml:"cooldown_threshold"`
	SampleGatewayFees bool          `yaml:"sample_gateway_fees"`
	FeeSampleInterval time.Duration `yaml:"fee_sample_interval"`
}

type SnipeConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BuySize      float64       `yaml:"buy_size"`
	MinLiquidity float64       `yaml:"min_liquidity"`
	MaxTopHolder float64       `yaml:"max_top_holder"`
	WindowSize   int           `yaml:"window_size"`
	DenylistTTL  time.Duration `yaml:"denylist_ttl"`
}

type MirrorConfig struct {
	Enabled       bool     `yaml:"enabled"`
	SourceWallets []string `yaml:"source_wallets"`
	MinTradeSize  float64  `yaml:"min_trade_size"`
}

type PolicyConfig struct {
	MaxPositionSize   float64 `yaml:"max_position_size"`
	MaxDailyLoss      float64 `yaml:"max_daily_loss"`
	MaxSlippage       float64 `yaml:"max_slippage"`
	Allocation        float64 `yaml:"allocation"`
	MaxTradesPerHour  int     `yaml:"max_trades_per_hour"`
	StopLossPct       float64 `yaml:"stop_loss_pct"`
	TakeProfitPct     float64 `yaml:"take_profit_pct"`
	DegradedSizeScale float64 `yaml:"degraded_size_scale"`
}

type ReportConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TelegramConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Token                  string        `yaml:"token"`
	ChatID                 string        `yaml:"chat_id"`
	OperatorEnabled        bool          `yaml:"operator_enabled"`
	OperatorPollInterval   time.Duration `yaml:"operator_poll_interval"`
	OperatorAllowedUserIDs []int64       `yaml:"operator_allowed_user_ids"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://rpc.mainnet-beta.solmarkets.io"
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Gateway.WSURL == "" {
		cfg.Gateway.WSURL = "wss://stream.mainnet-beta.solmarkets.io/ws"
	}
	if cfg.Feed.ReconnectDelay == 0 {
		cfg.Feed.ReconnectDelay = 3 * time.Second
	}
	if cfg.Feed.PingInterval == 0 {
		cfg.Feed.PingInterval = 30 * time.Second
	}
	if cfg.Feed.ReorderWindow == 0 {
		cfg.Feed.ReorderWindow = 200 * time.Millisecond
	}
	if cfg.Feed.QueueSize <= 0 {
		cfg.Feed.QueueSize = 1024
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/spl-sniper-bot.db"
	}
	if cfg.Exec.BasePriorityFee == 0 {
		cfg.Exec.BasePriorityFee = 5_000
	}
	if cfg.Exec.MaxPriorityFee == 0 {
		cfg.Exec.MaxPriorityFee = 100_000
	}
	if cfg.Exec.ComputeBudget == 0 {
		cfg.Exec.ComputeBudget = 200_000
	}
	if cfg.Exec.MaxRetries == 0 {
		cfg.Exec.MaxRetries = 3
	}
	if cfg.Exec.RetryBackoff == 0 {
		cfg.Exec.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.Exec.ConfirmPoll == 0 {
		cfg.Exec.ConfirmPoll = 500 * time.Millisecond
	}
	if cfg.Exec.ConfirmTimeout == 0 {
		cfg.Exec.ConfirmTimeout = 30 * time.Second
	}
	if cfg.Exec.FailureCooldown == 0 {
		cfg.Exec.FailureCooldown = 5 * time.Minute
	}
	if cfg.Exec.CooldownThreshold == 0 {
		cfg.Exec.CooldownThreshold = 3
	}
	if cfg.Exec.FeeSampleInterval == 0 {
		cfg.Exec.FeeSampleInterval = 15 * time.Second
	}
	if cfg.Snipe.MinLiquidity == 0 {
		cfg.Snipe.MinLiquidity = 1_000
	}
	if cfg.Snipe.MaxTopHolder == 0 {
		cfg.Snipe.MaxTopHolder = 0.5
	}
	if cfg.Snipe.WindowSize == 0 {
		cfg.Snipe.WindowSize = 32
	}
	if cfg.Snipe.DenylistTTL == 0 {
		cfg.Snipe.DenylistTTL = time.Hour
	}
	if cfg.Mirror.MinTradeSize == 0 {
		cfg.Mirror.MinTradeSize = 0.01
	}
	if cfg.Policy.MaxSlippage == 0 {
		cfg.Policy.MaxSlippage = 0.05
	}
	if cfg.Policy.Allocation == 0 {
		cfg.Policy.Allocation = 0.1
	}
	if cfg.Policy.MaxTradesPerHour == 0 {
		cfg.Policy.MaxTradesPerHour = 10
	}
	if cfg.Policy.StopLossPct == 0 {
		cfg.Policy.StopLossPct = 0.2
	}
	if cfg.Policy.TakeProfitPct == 0 {
		cfg.Policy.TakeProfitPct = 0.5
	}
	if cfg.Policy.DegradedSizeScale == 0 {
		cfg.Policy.DegradedSizeScale = 0.5
	}
	if cfg.Report.QueueSize <= 0 {
		cfg.Report.QueueSize = 256
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9102"
	}
	if cfg.Telegram.OperatorPollInterval == 0 {
		cfg.Telegram.OperatorPollInterval = 3 * time.Second
	}
}

func validate(cfg *Config) error {
	if !cfg.Snipe.Enabled && !cfg.Mirror.Enabled {
		return errors.New("at least one of snipe or mirror must be enabled")
	}
	if cfg.Snipe.Enabled && cfg.Snipe.BuySize <= 0 {
		return errors.New("snipe.buy_size must be > 0")
	}
	if cfg.Mirror.Enabled && len(cfg.Mirror.SourceWallets) == 0 {
		return errors.New("mirror.source_wallets is required when mirror is enabled")
	}
	if cfg.Policy.MaxPositionSize <= 0 {
		return errors.New("policy.max_position_size must be > 0")
	}
	if cfg.Policy.MaxDailyLoss <= 0 {
		return errors.New("policy.max_daily_loss must be > 0")
	}
	if cfg.Policy.Allocation <= 0 || cfg.Policy.Allocation > 1 {
		return errors.New("policy.allocation must be in (0, 1]")
	}
	if cfg.Exec.MaxPriorityFee < cfg.Exec.BasePriorityFee {
		return errors.New("exec.max_priority_fee must be >= exec.base_priority_fee")
	}
	return nil
}
