package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"spl-sniper-bot/internal/alerts"
	"spl-sniper-bot/internal/config"
	"spl-sniper-bot/internal/detect"
	"spl-sniper-bot/internal/exec"
	"spl-sniper-bot/internal/exit"
	"spl-sniper-bot/internal/feed"
	"spl-sniper-bot/internal/gateway/rpc"
	"spl-sniper-bot/internal/gateway/txsign"
	"spl-sniper-bot/internal/gateway/ws"
	"spl-sniper-bot/internal/ledger"
	"spl-sniper-bot/internal/metrics"
	"spl-sniper-bot/internal/report"
	"spl-sniper-bot/internal/risk"
	"spl-sniper-bot/internal/state"
	"spl-sniper-bot/internal/state/sqlite"

	"go.uber.org/zap"
)

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	ws        *ws.Client
	feed      *feed.Adapter
	detector  *detect.Detector
	denylist  *detect.Denylist
	book      *ledger.Ledger
	policy    *risk.PolicyStore
	evaluator *risk.Evaluator
	cooldowns *risk.Cooldowns
	gateway   *rpc.Client
	submitter *exec.Submitter
	exits     *exit.Monitor
	reports   *report.Writer
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram

	opsMu          sync.RWMutex
	paused         bool
	policyOverride *risk.Policy
	operatorWarned bool

	workMu      sync.Mutex
	workers     map[string]chan detect.Candidate
	quarantined map[string]struct{}
	timeouts    map[string]struct{}
	wg          sync.WaitGroup
}

const workerQueueSize = 64

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	privateKey := strings.TrimSpace(os.Getenv("SNIPER_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("SNIPER_PRIVATE_KEY is required")
	}
	signer, err := txsign.NewSigner(privateKey)
	if err != nil {
		return nil, err
	}
	gateway, err := rpc.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout, signer)
	if err != nil {
		return nil, err
	}
	gateway.SetLogger(log)

	var sources []string
	if cfg.Mirror.Enabled {
		sources = cfg.Mirror.SourceWallets
	}
	wsClient := ws.New(cfg.Gateway.WSURL, cfg.Feed.ReconnectDelay, cfg.Feed.PingInterval, log)
	adapter := feed.NewAdapter(wsClient, cfg.Feed.ReorderWindow, cfg.Feed.QueueSize, sources, log, m)

	denylist := detect.NewDenylist(cfg.Snipe.DenylistTTL)
	var strategies []detect.Strategy
	if cfg.Snipe.Enabled {
		strategies = append(strategies, detect.NewSnipeStrategy(
			cfg.Snipe.BuySize, cfg.Snipe.MinLiquidity, cfg.Snipe.MaxTopHolder, denylist))
	}
	if cfg.Mirror.Enabled {
		strategies = append(strategies, detect.NewMirrorStrategy(
			cfg.Mirror.SourceWallets, cfg.Policy.Allocation, cfg.Mirror.MinTradeSize, cfg.Policy.MaxPositionSize))
	}
	detector := detect.NewDetector(strategies, cfg.Snipe.WindowSize, log, m)

	book := ledger.New(store, log)
	policy := risk.NewPolicyStore(risk.PolicyFromConfig(cfg.Policy))
	cooldowns := risk.NewCooldowns(cfg.Exec.CooldownThreshold, cfg.Exec.FailureCooldown)
	evaluator := risk.NewEvaluator(policy, book, cooldowns, log, m)

	submitter := exec.NewSubmitter(gateway, store, exec.Options{
		BasePriorityFee: cfg.Exec.BasePriorityFee,
		MaxPriorityFee:  cfg.Exec.MaxPriorityFee,
		ComputeBudget:   cfg.Exec.ComputeBudget,
		MaxRetries:      cfg.Exec.MaxRetries,
		RetryBackoff:    cfg.Exec.RetryBackoff,
		ConfirmPoll:     cfg.Exec.ConfirmPoll,
		ConfirmTimeout:  cfg.Exec.ConfirmTimeout,
	}, log, m)

	reports, err := report.New(cfg.Report, log, m)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		cfg:         cfg,
		log:         log,
		store:       store,
		ws:          wsClient,
		feed:        adapter,
		detector:    detector,
		denylist:    denylist,
		book:        book,
		policy:      policy,
		evaluator:   evaluator,
		cooldowns:   cooldowns,
		gateway:     gateway,
		submitter:   submitter,
		exits:       exit.NewMonitor(book, log, m),
		reports:     reports,
		metrics:     m,
		prom:        prom,
		alerts:      alerts.NewTelegram(cfg.Telegram, log),
		workers:     make(map[string]chan detect.Candidate),
		quarantined: make(map[string]struct{}),
		timeouts:    make(map[string]struct{}),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.reports.Close()

	if a.gateway != nil && a.store != nil {
		if err := a.gateway.InitNonceStore(ctx, a.store); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		} else if state, ok := a.gateway.NonceState(); ok {
			a.log.Info("nonce persistence enabled", zap.String("nonce_key", state.Key), zap.Uint64("nonce_seed", state.Last))
		}
	}
	if err := a.book.Restore(ctx); err != nil {
		return err
	}
	a.log.Info("ledger restored", zap.Int("open_positions", len(a.book.Snapshot())))

	a.reports.Start(ctx)
	a.startMetricsServer(ctx)
	a.startOperator(ctx)
	if a.cfg.Exec.SampleGatewayFees {
		go a.feeSampleLoop(ctx)
	}
	go a.reconcileLoop(ctx)

	feedErr := make(chan error, 1)
	go func() {
		feedErr <- a.feed.Run(ctx)
	}()

	events := a.feed.Events()
	for {
		select {
		case <-ctx.Done():
			a.feed.Close()
			a.wg.Wait()
			return ctx.Err()
		case err := <-feedErr:
			return err
		case ev := <-events:
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *App) handleEvent(ctx context.Context, ev feed.MarketEvent) {
	if ev.Kind == feed.KindDegraded {
		if !a.evaluator.Degraded() {
			a.evaluator.SetDegraded(true)
			a.log.Warn("feed degraded, scaling down candidate sizes")
			a.sendAlert(ctx, "feed degraded: candidate sizes scaled down until recovery")
		}
		return
	}
	if a.evaluator.Degraded() {
		a.evaluator.SetDegraded(false)
		a.log.Info("feed recovered")
	}
	if cand, ok := a.exits.Check(ctx, ev); ok {
		a.dispatch(ctx, cand)
	}
	for _, cand := range a.detector.Handle(ev) {
		a.dispatch(ctx, cand)
	}
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil || !a.cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Listen, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.Listen))
}

func (a *App) feeSampleLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Exec.FeeSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.submitter.SampleFees(ctx); err != nil {
				a.log.Debug("fee sample failed", zap.Error(err))
			}
		}
	}
}

func (a *App) sendAlert(ctx context.Context, message string) {
	if err := a.alerts.Send(ctx, message); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}
