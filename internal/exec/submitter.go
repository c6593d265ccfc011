package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"spl-sniper-bot/internal/detect"
	"spl-sniper-bot/internal/feed"
	"spl-sniper-bot/internal/gateway/rpc"
	"spl-sniper-bot/internal/gateway/txsign"
	"spl-sniper-bot/internal/metrics"
	"spl-sniper-bot/internal/state"
)

const orderResultKeyPrefix = "order:result:"

// Gateway is the submission surface of the chain gateway.
type Gateway interface {
	SubmitSwap(ctx context.Context, action txsign.SwapAction) (string, error)
	ConfirmationStatus(ctx context.Context, signature string) (rpc.Confirmation, error)
	RecentPriorityFee(ctx context.Context) (uint64, error)
}

type Options struct {
	BasePriorityFee uint64
	MaxPriorityFee  uint64
	ComputeBudget   uint64
	MaxRetries      int
	RetryBackoff    time.Duration
	ConfirmPoll     time.Duration
	ConfirmTimeout  time.Duration
}

// Submitter owns the order lifecycle from build to terminal state. Each
// idempotency key causes at most one successfully confirmed submission: a
// second Submit for the same key returns the recorded result without
// touching the network.
type Submitter struct {
	gateway Gateway
	store   state.Store
	fees    *FeeSchedule
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	results   map[string]SubmissionResult
	inflight  map[string]chan struct{}
	cancelled map[string]struct{}
}

func NewSubmitter(gateway Gateway, store state.Store, opts Options, log *zap.Logger, m *metrics.Metrics) *Submitter {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	if opts.ConfirmPoll <= 0 {
		opts.ConfirmPoll = 500 * time.Millisecond
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Submitter{
		gateway:   gateway,
		store:     store,
		fees:      NewFeeSchedule(opts.BasePriorityFee, opts.MaxPriorityFee),
		opts:      opts,
		log:       log,
		metrics:   m,
		results:   make(map[string]SubmissionResult),
		inflight:  make(map[string]chan struct{}),
		cancelled: make(map[string]struct{}),
	}
}

// BuildOrder turns an accepted candidate into an order with fee and compute
// parameters chosen by its urgency.
func (s *Submitter) BuildOrder(cand detect.Candidate, maxSlippage float64, clipped bool) (Order, error) {
	key, err := txsign.IdempotencyKey(cand.Asset, string(cand.Side), cand.EventID)
	if err != nil {
		return Order{}, err
	}
	return Order{
		Asset:          cand.Asset,
		Side:           cand.Side,
		Amount:         cand.Size,
		Price:          cand.Price,
		MaxSlippage:    maxSlippage,
		PriorityFee:    s.fees.PriorityFee(cand.Urgency),
		ComputeBudget:  s.opts.ComputeBudget,
		IdempotencyKey: key,
		Urgency:        cand.Urgency,
		EventID:        cand.EventID,
		Strategy:       cand.Strategy,
		Clipped:        clipped,
	}, nil
}

// Cancel requests cancellation of an order that has not been broadcast yet.
// Once broadcast, the outcome is whatever the chain decides.
func (s *Submitter) Cancel(idempotencyKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[idempotencyKey] = struct{}{}
}

// Submit drives an order to a terminal state. Duplicate keys return the
// prior result, waiting out any in-flight submission for the same key
// first; retries rebuild the signed action with fresh fee parameters
// before every attempt.
func (s *Submitter) Submit(ctx context.Context, order Order) (SubmissionResult, error) {
	for {
		if prior, ok, err := s.priorResult(ctx, order.IdempotencyKey); err != nil {
			return SubmissionResult{}, err
		} else if ok {
			if s.log != nil {
				s.log.Debug("duplicate submission suppressed",
					zap.String("asset", order.Asset),
					zap.String("idempotency_key", order.IdempotencyKey))
			}
			return prior, nil
		}
		done, leader := s.markInflight(order.IdempotencyKey)
		if leader {
			break
		}
		select {
		case <-done:
		case <-ctx.Done():
			return SubmissionResult{}, ctx.Err()
		}
	}
	defer s.clearInflight(order.IdempotencyKey)

	result := s.run(ctx, order)
	s.record(ctx, result)
	return result, nil
}

func (s *Submitter) run(ctx context.Context, order Order) SubmissionResult {
	sm := NewStateMachine()
	backoff := s.opts.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return SubmissionResult{Order: order, Status: sm.Apply(EventFail), Error: ctx.Err().Error()}
			case <-time.After(backoff):
				backoff *= 2
			}
		}
		if s.cancelRequested(order.IdempotencyKey) {
			return SubmissionResult{Order: order, Status: sm.Apply(EventCancel)}
		}

		// Rebuild with current fee parameters so a retry after congestion
		// carries fresh timing.
		order.PriorityFee = s.fees.PriorityFee(order.Urgency)
		action, err := txsign.SwapWire(order.Asset, order.Side == feed.SideBuy,
			order.Amount, order.Price, order.MaxSlippage, order.PriorityFee, order.ComputeBudget)
		if err != nil {
			return SubmissionResult{Order: order, Status: sm.Apply(EventFail), Error: err.Error()}
		}

		signature, err := s.gateway.SubmitSwap(ctx, action)
		if err != nil {
			lastErr = err
			if s.log != nil {
				s.log.Warn("submission attempt failed",
					zap.String("asset", order.Asset),
					zap.Int("attempt", attempt+1),
					zap.Error(err))
			}
			continue
		}
		sm.Apply(EventBroadcast)
		s.metrics.OrdersSubmitted.Inc()
		return s.awaitConfirmation(ctx, sm, order, signature)
	}
	s.metrics.OrdersFailed.Inc()
	errText := "submission retries exhausted"
	if lastErr != nil {
		errText = lastErr.Error()
	}
	return SubmissionResult{Order: order, Status: sm.Apply(EventFail), Error: errText}
}

func (s *Submitter) awaitConfirmation(ctx context.Context, sm *StateMachine, order Order, signature string) SubmissionResult {
	deadline := time.Now().Add(s.opts.ConfirmTimeout)
	for {
		conf, err := s.gateway.ConfirmationStatus(ctx, signature)
		if err == nil {
			switch conf.State {
			case rpc.ConfirmConfirmed:
				s.metrics.OrdersConfirmed.Inc()
				return SubmissionResult{
					Order:      order,
					Signature:  signature,
					Status:     sm.Apply(EventConfirm),
					FillPrice:  conf.FillPrice,
					FillAmount: conf.FillAmount,
				}
			case rpc.ConfirmFailed:
				s.metrics.OrdersFailed.Inc()
				return SubmissionResult{
					Order:     order,
					Signature: signature,
					Status:    sm.Apply(EventFail),
					Error:     conf.Error,
				}
			}
		}
		if time.Now().After(deadline) {
			s.metrics.OrdersTimedOut.Inc()
			return SubmissionResult{
				Order:     order,
				Signature: signature,
				Status:    sm.Apply(EventTimeout),
				Error:     "confirmation timed out",
			}
		}
		select {
		case <-ctx.Done():
			s.metrics.OrdersTimedOut.Inc()
			return SubmissionResult{
				Order:     order,
				Signature: signature,
				Status:    sm.Apply(EventTimeout),
				Error:     ctx.Err().Error(),
			}
		case <-time.After(s.opts.ConfirmPoll):
		}
	}
}

// Reconcile re-polls a timed-out order. A late confirmation upgrades the
// recorded result so the ledger can be patched retroactively.
func (s *Submitter) Reconcile(ctx context.Context, idempotencyKey string) (SubmissionResult, bool, error) {
	s.mu.Lock()
	result, ok := s.results[idempotencyKey]
	s.mu.Unlock()
	if !ok || result.Status != StateTimedOut || result.Signature == "" {
		return result, false, nil
	}
	conf, err := s.gateway.ConfirmationStatus(ctx, result.Signature)
	if err != nil {
		return result, false, err
	}
	if conf.State != rpc.ConfirmConfirmed {
		return result, false, nil
	}
	result.Status = nextState(result.Status, EventConfirm)
	result.FillPrice = conf.FillPrice
	result.FillAmount = conf.FillAmount
	result.Error = ""
	s.metrics.OrdersConfirmed.Inc()
	s.record(ctx, result)
	return result, true, nil
}

// SampleFees re-anchors the fee ramp from the gateway's recent fee estimate.
func (s *Submitter) SampleFees(ctx context.Context) error {
	sampled, err := s.gateway.RecentPriorityFee(ctx)
	if err != nil {
		return err
	}
	s.fees.UpdateBase(s.opts.BasePriorityFee, sampled)
	return nil
}

func (s *Submitter) priorResult(ctx context.Context, key string) (SubmissionResult, bool, error) {
	s.mu.Lock()
	if result, ok := s.results[key]; ok {
		s.mu.Unlock()
		return result, true, nil
	}
	s.mu.Unlock()
	if s.store == nil {
		return SubmissionResult{}, false, nil
	}
	raw, ok, err := s.store.Get(ctx, orderResultKeyPrefix+key)
	if err != nil || !ok {
		return SubmissionResult{}, false, err
	}
	var result SubmissionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return SubmissionResult{}, false, fmt.Errorf("decode stored result %s: %w", key, err)
	}
	s.mu.Lock()
	s.results[key] = result
	s.mu.Unlock()
	return result, true, nil
}

func (s *Submitter) record(ctx context.Context, result SubmissionResult) {
	key := result.Order.IdempotencyKey
	s.mu.Lock()
	s.results[key] = result
	delete(s.cancelled, key)
	s.mu.Unlock()
	if s.store == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.logRecordError(key, err)
		return
	}
	if err := s.store.Set(ctx, orderResultKeyPrefix+key, string(payload)); err != nil {
		s.logRecordError(key, err)
	}
}

func (s *Submitter) logRecordError(key string, err error) {
	if s.log != nil {
		s.log.Warn("failed to persist submission result", zap.String("idempotency_key", key), zap.Error(err))
	}
}

// markInflight claims the key for this submission. A non-leader caller gets
// the leader's done channel, closed once the leader's result is recorded.
func (s *Submitter) markInflight(key string) (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done, ok := s.inflight[key]; ok {
		return done, false
	}
	done := make(chan struct{})
	s.inflight[key] = done
	return done, true
}

func (s *Submitter) clearInflight(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done, ok := s.inflight[key]; ok {
		close(done)
		delete(s.inflight, key)
	}
}

func (s *Submitter) cancelRequested(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancelled[key]
	return ok
}
