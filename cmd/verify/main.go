package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"spl-sniper-bot/internal/config"
	"spl-sniper-bot/internal/gateway/rpc"
	"spl-sniper-bot/internal/gateway/txsign"
	"spl-sniper-bot/internal/logging"
	"spl-sniper-bot/internal/state/sqlite"
)

const (
	defaultVerifyAmount   = 0.01
	defaultSlippageBps    = 20
	defaultGatewayTimeout = 10 * time.Second
	defaultGatewayBaseURL = "https://rpc.mainnet-beta.solmarkets.io"
	defaultVerifyEnvFile  = ".env"
	defaultPriorityFee    = 5_000
	defaultComputeBudget  = 200_000
)

// verify exercises the signing and submission path end to end: it derives a
// minimal swap, signs it, and optionally broadcasts it through the gateway.
func main() {
	configPath := flag.String("config", "", "optional config path for gateway settings")
	dryRun := flag.Bool("dry-run", true, "print the signed action and exit without broadcasting")
	fees := flag.Bool("fees", false, "fetch and print the gateway's recent priority fee and exit")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "info"}
	baseURL := defaultGatewayBaseURL
	timeout := defaultGatewayTimeout
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
		logCfg = cfg.Log
		if cfg.Gateway.BaseURL != "" {
			baseURL = cfg.Gateway.BaseURL
		}
		if cfg.Gateway.Timeout > 0 {
			timeout = cfg.Gateway.Timeout
		}
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	privateKey := strings.TrimSpace(os.Getenv("SNIPER_PRIVATE_KEY"))
	if privateKey == "" {
		fatal(errors.New("SNIPER_PRIVATE_KEY is required"))
	}
	signer, err := txsign.NewSigner(privateKey)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("signer address: %s\n", signer.Address().Hex())

	if *fees {
		client, err := rpc.NewClient(baseURL, timeout, signer)
		if err != nil {
			fatal(err)
		}
		fee, err := client.RecentPriorityFee(context.Background())
		if err != nil {
			fatal(err)
		}
		fmt.Printf("recent priority fee: %d\n", fee)
		return
	}

	asset := strings.TrimSpace(os.Getenv("SNIPER_VERIFY_ASSET"))
	if asset == "" {
		fatal(errors.New("SNIPER_VERIFY_ASSET is required"))
	}
	limitPrice := 0.0
	if envVal, ok, err := floatEnv("SNIPER_VERIFY_LIMIT_PRICE"); err != nil {
		fatal(err)
	} else if ok {
		limitPrice = envVal
	}
	if limitPrice <= 0 {
		fatal(errors.New("SNIPER_VERIFY_LIMIT_PRICE must be > 0"))
	}
	amount := defaultVerifyAmount
	if envVal, ok, err := floatEnv("SNIPER_VERIFY_AMOUNT"); err != nil {
		fatal(err)
	} else if ok {
		amount = envVal
	}
	slippageBps := defaultSlippageBps
	if envVal, ok, err := intEnv("SNIPER_VERIFY_SLIPPAGE_BPS"); err != nil {
		fatal(err)
	} else if ok {
		slippageBps = envVal
	}

	action, err := txsign.SwapWire(asset, true, amount, limitPrice,
		float64(slippageBps)/10000.0, defaultPriorityFee, defaultComputeBudget)
	if err != nil {
		fatal(err)
	}
	nonce := uint64(time.Now().UnixMilli())
	sig, err := signer.SignSwapAction(action, nonce)
	if err != nil {
		fatal(err)
	}
	key, err := txsign.IdempotencyKey(asset, "buy", fmt.Sprintf("verify-%d", nonce))
	if err != nil {
		fatal(err)
	}
	fmt.Printf("verify swap: asset=%s amount=%s limit_price=%s slippage=%s\n",
		action.Asset, action.Amount, action.LimitPrice, action.MaxSlippage)
	fmt.Printf("signature: r=%s s=%s v=%d\n", sig.R, sig.S, sig.V)
	fmt.Printf("idempotency key: %s\n", key)
	if *dryRun {
		return
	}

	client, err := rpc.NewClient(baseURL, timeout, signer)
	if err != nil {
		fatal(err)
	}
	client.SetLogger(log)
	ctx := context.Background()
	statePath := "data/spl-sniper-bot.db"
	if cfg != nil && cfg.State.SQLitePath != "" {
		statePath = cfg.State.SQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		log.Warn("nonce store init failed: " + err.Error())
	} else if store, err := sqlite.New(statePath); err != nil {
		log.Warn("nonce store init failed: " + err.Error())
	} else {
		defer store.Close()
		if err := client.InitNonceStore(ctx, store); err != nil {
			log.Warn("nonce store init failed: " + err.Error())
		}
	}

	signature, err := client.SubmitSwap(ctx, action)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("broadcast signature: %s\n", signature)
	time.Sleep(2 * time.Second)
	conf, err := client.ConfirmationStatus(ctx, signature)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("confirmation: state=%s fill_price=%.8f fill_amount=%.8f error=%q\n",
		conf.State, conf.FillPrice, conf.FillAmount, conf.Error)
}

func floatEnv(key string) (float64, bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false, nil
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, true, nil
}

func intEnv(key string) (int, bool, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, true, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
