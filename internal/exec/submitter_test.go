package exec

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"spl-sniper-bot/internal/detect"
	"spl-sniper-bot/internal/feed"
	"spl-sniper-bot/internal/gateway/rpc"
	"spl-sniper-bot/internal/gateway/txsign"
	"spl-sniper-bot/internal/metrics"
	"spl-sniper-bot/internal/state/sqlite"

	"go.uber.org/zap"
)

type mockGateway struct {
	mu            sync.Mutex
	submitErrs    []error
	submitCalls   int
	confirmStates []rpc.Confirmation
	confirmCalls  int
	fee           uint64
}

func (m *mockGateway) SubmitSwap(_ context.Context, _ txsign.SwapAction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitCalls++
	if len(m.submitErrs) > 0 {
		err := m.submitErrs[0]
		m.submitErrs = m.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "tx-sig-1", nil
}

func (m *mockGateway) ConfirmationStatus(_ context.Context, _ string) (rpc.Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmCalls++
	if len(m.confirmStates) == 0 {
		return rpc.Confirmation{State: rpc.ConfirmPending}, nil
	}
	conf := m.confirmStates[0]
	if len(m.confirmStates) > 1 {
		m.confirmStates = m.confirmStates[1:]
	}
	return conf, nil
}

func (m *mockGateway) RecentPriorityFee(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fee, nil
}

func (m *mockGateway) submitted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

func testOpts() Options {
	return Options{
		BasePriorityFee: 5000,
		MaxPriorityFee:  100000,
		ComputeBudget:   200000,
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
		ConfirmPoll:     time.Millisecond,
		ConfirmTimeout:  25 * time.Millisecond,
	}
}

func confirmed(price, amount float64) rpc.Confirmation {
	return rpc.Confirmation{State: rpc.ConfirmConfirmed, FillPrice: price, FillAmount: amount}
}

func testOrder(t *testing.T, s *Submitter) Order {
	t.Helper()
	order, err := s.BuildOrder(detect.Candidate{
		Asset:    "mintX",
		Side:     feed.SideBuy,
		Size:     1.5,
		Urgency:  0.5,
		Strategy: "snipe",
		EventID:  "evt-1",
		Price:    0.0001,
	}, 0.05, false)
	if err != nil {
		t.Fatalf("build order: %v", err)
	}
	return order
}

func TestSubmitConfirms(t *testing.T) {
	gw := &mockGateway{confirmStates: []rpc.Confirmation{confirmed(0.00011, 1.5)}}
	s := NewSubmitter(gw, nil, testOpts(), zap.NewNop(), metrics.NewNoop())

	result, err := s.Submit(context.Background(), testOrder(t, s))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != StateConfirmed || result.Signature != "tx-sig-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.FillPrice != 0.00011 || result.FillAmount != 1.5 {
		t.Fatalf("unexpected fill: %+v", result)
	}
}

func TestTransientFailuresThenSuccess(t *testing.T) {
	gw := &mockGateway{
		submitErrs:    []error{errors.New("timeout"), errors.New("stale blockhash"), nil},
		confirmStates: []rpc.Confirmation{confirmed(0.0001, 1.5)},
	}
	s := NewSubmitter(gw, nil, testOpts(), zap.NewNop(), metrics.NewNoop())

	result, err := s.Submit(context.Background(), testOrder(t, s))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != StateConfirmed {
		t.Fatalf("expected confirmed after retries, got %+v", result)
	}
	if gw.submitted() != 3 {
		t.Fatalf("expected 3 attempts, got %d", gw.submitted())
	}
}

func TestPersistentFailureMarksFailed(t *testing.T) {
	gw := &mockGateway{
		submitErrs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}
	s := NewSubmitter(gw, nil, testOpts(), zap.NewNop(), metrics.NewNoop())

	result, err := s.Submit(context.Background(), testOrder(t, s))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != StateFailed || result.Error == "" {
		t.Fatalf("expected failed with error detail, got %+v", result)
	}
	if gw.submitted() != 3 {
		t.Fatalf("expected retry bound of 3, got %d", gw.submitted())
	}
}

func TestDuplicateKeySubmitsOnce(t *testing.T) {
	gw := &mockGateway{confirmStates: []rpc.Confirmation{confirmed(0.0001, 1.5)}}
	s := NewSubmitter(gw, nil, testOpts(), zap.NewNop(), metrics.NewNoop())
	order := testOrder(t, s)

	first, err := s.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := s.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if gw.submitted() != 1 {
		t.Fatalf("expected one network submission, got %d", gw.submitted())
	}
	if second.Signature != first.Signature || second.Status != StateConfirmed {
		t.Fatalf("expected prior result returned, got %+v", second)
	}
}

type slowGateway struct {
	mockGateway
	release chan struct{}
}

func (g *slowGateway) SubmitSwap(ctx context.Context, action txsign.SwapAction) (string, error) {
	<-g.release
	return g.mockGateway.SubmitSwap(ctx, action)
}

func TestConcurrentDuplicateWaitsForResult(t *testing.T) {
	gw := &slowGateway{
		mockGateway: mockGateway{confirmStates: []rpc.Confirmation{confirmed(0.0001, 1.5)}},
		release:     make(chan struct{}),
	}
	s := NewSubmitter(gw, nil, testOpts(), zap.NewNop(), metrics.NewNoop())
	order := testOrder(t, s)

	results := make(chan SubmissionResult, 2)
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res, err := s.Submit(context.Background(), order)
			results <- res
			errs <- err
		}()
	}

	// Let one submission claim the key before the broadcast goes through.
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		_, claimed := s.inflight[order.IdempotencyKey]
		s.mu.Unlock()
		if claimed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no submission claimed the key")
		}
		time.Sleep(time.Millisecond)
	}
	close(gw.release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("submit: %v", err)
		}
		if res := <-results; res.Status != StateConfirmed || res.Signature != "tx-sig-1" {
			t.Fatalf("unexpected result: %+v", res)
		}
	}
	if gw.submitted() != 1 {
		t.Fatalf("expected one network submission, got %d", gw.submitted())
	}
}

func TestDuplicateKeySurvivesRestart(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	gw := &mockGateway{confirmStates: []rpc.Confirmation{confirmed(0.0001, 1.5)}}
	first := NewSubmitter(gw, store, testOpts(), zap.NewNop(), metrics.NewNoop())
	order := testOrder(t, first)
	if _, err := first.Submit(context.Background(), order); err != nil {
		t.Fatalf("submit: %v", err)
	}

	second := NewSubmitter(gw, store, testOpts(), zap.NewNop(), metrics.NewNoop())
	result, err := second.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("submit after restart: %v", err)
	}
	if gw.submitted() != 1 {
		t.Fatalf("expected no new network submission, got %d", gw.submitted())
	}
	if result.Status != StateConfirmed {
		t.Fatalf("expected stored result, got %+v", result)
	}
}

func TestCancelBeforeBroadcast(t *testing.T) {
	gw := &mockGateway{}
	s := NewSubmitter(gw, nil, testOpts(), zap.NewNop(), metrics.NewNoop())
	order := testOrder(t, s)

	s.Cancel(order.IdempotencyKey)
	result, err := s.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != StateCancelled {
		t.Fatalf("expected cancelled, got %+v", result)
	}
	if gw.submitted() != 0 {
		t.Fatalf("expected no broadcast, got %d", gw.submitted())
	}
}

func TestTimeoutThenReconcile(t *testing.T) {
	gw := &mockGateway{} // always pending
	s := NewSubmitter(gw, nil, testOpts(), zap.NewNop(), metrics.NewNoop())
	order := testOrder(t, s)

	result, err := s.Submit(context.Background(), order)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != StateTimedOut {
		t.Fatalf("expected timeout, got %+v", result)
	}

	// A late confirmation arrives out of band.
	gw.mu.Lock()
	gw.confirmStates = []rpc.Confirmation{confirmed(0.0002, 1.5)}
	gw.mu.Unlock()

	reconciled, changed, err := s.Reconcile(context.Background(), order.IdempotencyKey)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !changed || reconciled.Status != StateConfirmed || reconciled.FillPrice != 0.0002 {
		t.Fatalf("expected late confirmation applied, got changed=%v %+v", changed, reconciled)
	}
	// Reconciling again is a no-op.
	if _, changed, _ := s.Reconcile(context.Background(), order.IdempotencyKey); changed {
		t.Fatal("expected second reconcile to change nothing")
	}
}

func TestBuildOrderDerivesKeyAndFee(t *testing.T) {
	s := NewSubmitter(&mockGateway{}, nil, testOpts(), zap.NewNop(), metrics.NewNoop())
	cand := detect.Candidate{Asset: "mintX", Side: feed.SideBuy, Size: 1, Urgency: 1, Strategy: "snipe", EventID: "evt-1", Price: 2}

	high, err := s.BuildOrder(cand, 0.05, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cand.Urgency = 0
	low, err := s.BuildOrder(cand, 0.05, false)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if high.PriorityFee != 100000 || low.PriorityFee != 5000 {
		t.Fatalf("unexpected fee ramp: high=%d low=%d", high.PriorityFee, low.PriorityFee)
	}
	if high.IdempotencyKey != low.IdempotencyKey {
		t.Fatal("urgency must not change the idempotency key")
	}
	if high.ComputeBudget != 200000 {
		t.Fatalf("unexpected compute budget %d", high.ComputeBudget)
	}
}

func TestSampleFeesRaisesBase(t *testing.T) {
	gw := &mockGateway{fee: 40000}
	s := NewSubmitter(gw, nil, testOpts(), zap.NewNop(), metrics.NewNoop())
	if err := s.SampleFees(context.Background()); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if got := s.fees.PriorityFee(0); got != 40000 {
		t.Fatalf("expected sampled base 40000, got %d", got)
	}
	// A quieter sample never drops below the configured base.
	gw.mu.Lock()
	gw.fee = 100
	gw.mu.Unlock()
	if err := s.SampleFees(context.Background()); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if got := s.fees.PriorityFee(0); got != 5000 {
		t.Fatalf("expected configured base 5000, got %d", got)
	}
}

func TestFeeScheduleClamps(t *testing.T) {
	f := NewFeeSchedule(5000, 100000)
	if got := f.PriorityFee(-1); got != 5000 {
		t.Fatalf("expected clamp to base, got %d", got)
	}
	if got := f.PriorityFee(2); got != 100000 {
		t.Fatalf("expected clamp to ceiling, got %d", got)
	}
	if got := f.PriorityFee(0.5); got != 52500 {
		t.Fatalf("expected midpoint 52500, got %d", got)
	}
	f.UpdateBase(5000, 500000)
	if got := f.PriorityFee(0); got != 100000 {
		t.Fatalf("expected sampled base clamped to ceiling, got %d", got)
	}
}

func TestStateMachineTransitions(t *testing.T) {
	sm := NewStateMachine()
	if got := sm.Apply(EventBroadcast); got != StateBroadcast {
		t.Fatalf("expected broadcast, got %s", got)
	}
	// Cancellation is invalid after broadcast.
	if got := sm.Apply(EventCancel); got != StateBroadcast {
		t.Fatalf("expected cancel ignored post-broadcast, got %s", got)
	}
	if got := sm.Apply(EventTimeout); got != StateTimedOut {
		t.Fatalf("expected timed out, got %s", got)
	}
	// Late confirmation upgrades a timeout.
	if got := sm.Apply(EventConfirm); got != StateConfirmed {
		t.Fatalf("expected confirmed, got %s", got)
	}
	if got := sm.Apply(EventFail); got != StateConfirmed {
		t.Fatalf("expected terminal state stable, got %s", got)
	}
}
