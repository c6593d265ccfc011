package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"spl-sniper-bot/internal/config"
	"spl-sniper-bot/internal/metrics"
)

const writeTimeout = 3 * time.Second

// Rejection is a candidate the risk evaluator turned down.
type Rejection struct {
	Time     time.Time
	Strategy string
	Asset    string
	Side     string
	Size     float64
	Reason   string
}

// Submission is the terminal record of an order.
type Submission struct {
	Time           time.Time
	Asset          string
	Side           string
	Amount         float64
	Status         string
	Signature      string
	FillPrice      float64
	FillAmount     float64
	Error          string
	Strategy       string
	IdempotencyKey string
	PriorityFee    uint64
}

// PositionChange is a ledger mutation caused by a confirmed fill.
type PositionChange struct {
	Time        time.Time
	Asset       string
	Quantity    float64
	AvgEntry    float64
	RealizedPnL float64
	Closed      bool
}

// Writer ships structured records to Postgres without ever blocking the
// trading pipeline. Queues are bounded; under backpressure the oldest queued
// record is dropped and counted.
type Writer struct {
	db          *sql.DB
	log         *zap.Logger
	metrics     *metrics.Metrics
	schema      string
	rejections  chan Rejection
	submissions chan Submission
	positions   chan PositionChange
	started     atomic.Bool
	dropRej     atomic.Uint64
	dropSub     atomic.Uint64
	dropPos     atomic.Uint64
}

func New(cfg config.ReportConfig, log *zap.Logger, m *metrics.Metrics) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("report dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	writer := &Writer{
		db:          db,
		log:         log,
		metrics:     m,
		schema:      schema,
		rejections:  make(chan Rejection, queueSize),
		submissions: make(chan Submission, queueSize),
		positions:   make(chan PositionChange, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueRejection(rec Rejection) {
	if w == nil {
		return
	}
	for {
		select {
		case w.rejections <- rec:
			return
		default:
		}
		select {
		case <-w.rejections:
			w.countDrop(&w.dropRej, "rejection")
		default:
		}
	}
}

func (w *Writer) EnqueueSubmission(rec Submission) {
	if w == nil {
		return
	}
	for {
		select {
		case w.submissions <- rec:
			return
		default:
		}
		select {
		case <-w.submissions:
			w.countDrop(&w.dropSub, "submission")
		default:
		}
	}
}

func (w *Writer) EnqueuePositionChange(rec PositionChange) {
	if w == nil {
		return
	}
	for {
		select {
		case w.positions <- rec:
			return
		default:
		}
		select {
		case <-w.positions:
			w.countDrop(&w.dropPos, "position")
		default:
		}
	}
}

// DroppedCounts reports how many records of each kind were discarded under
// backpressure.
func (w *Writer) DroppedCounts() (rejections, submissions, positions uint64) {
	if w == nil {
		return 0, 0, 0
	}
	return w.dropRej.Load(), w.dropSub.Load(), w.dropPos.Load()
}

func (w *Writer) countDrop(counter *atomic.Uint64, kind string) {
	w.metrics.ReportsDropped.Inc()
	if counter.Add(1) == 1 && w.log != nil {
		w.log.Warn("report queue full, dropping oldest", zap.String("kind", kind))
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-w.rejections:
			w.writeRejection(ctx, rec)
		case rec := <-w.submissions:
			w.writeSubmission(ctx, rec)
		case rec := <-w.positions:
			w.writePositionChange(ctx, rec)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("report db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		strategy TEXT NOT NULL,
		asset TEXT NOT NULL,
		side TEXT NOT NULL,
		size DOUBLE PRECISION NOT NULL,
		reason TEXT NOT NULL
	)`, w.table("candidate_rejections"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		side TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		signature TEXT NOT NULL DEFAULT '',
		fill_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		fill_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		priority_fee BIGINT NOT NULL DEFAULT 0
	)`, w.table("submissions"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		asset TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		avg_entry DOUBLE PRECISION NOT NULL,
		realized_pnl DOUBLE PRECISION NOT NULL,
		closed BOOLEAN NOT NULL
	)`, w.table("position_changes"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"candidate_rejections", "submissions", "position_changes"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))); err != nil && w.log != nil {
			w.log.Warn("hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeRejection(ctx context.Context, rec Rejection) {
	query := fmt.Sprintf(`INSERT INTO %s (ts, strategy, asset, side, size, reason)
		VALUES ($1,$2,$3,$4,$5,$6)`, w.table("candidate_rejections"))
	w.insert(ctx, query, rec.Time, rec.Strategy, rec.Asset, rec.Side, rec.Size, rec.Reason)
}

func (w *Writer) writeSubmission(ctx context.Context, rec Submission) {
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, asset, side, amount, status, signature, fill_price, fill_amount, error, strategy, idempotency_key, priority_fee
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, w.table("submissions"))
	w.insert(ctx, query,
		rec.Time, rec.Asset, rec.Side, rec.Amount, rec.Status, rec.Signature,
		rec.FillPrice, rec.FillAmount, rec.Error, rec.Strategy, rec.IdempotencyKey, rec.PriorityFee)
}

func (w *Writer) writePositionChange(ctx context.Context, rec PositionChange) {
	query := fmt.Sprintf(`INSERT INTO %s (ts, asset, quantity, avg_entry, realized_pnl, closed)
		VALUES ($1,$2,$3,$4,$5,$6)`, w.table("position_changes"))
	w.insert(ctx, query, rec.Time, rec.Asset, rec.Quantity, rec.AvgEntry, rec.RealizedPnL, rec.Closed)
}

func (w *Writer) insert(ctx context.Context, query string, args ...any) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.ExecContext(ctx, query, args...); err != nil && w.log != nil {
		w.log.Warn("report insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
