package exec

import (
	"sync"

	"spl-sniper-bot/internal/feed"
)

// Order is a risk-approved action ready for signing and broadcast. The
// idempotency key ties it back to the originating opportunity so retries and
// rebuilds never double-execute it.
type Order struct {
	Asset          string
	Side           feed.Side
	Amount         float64
	Price          float64
	MaxSlippage    float64
	PriorityFee    uint64
	ComputeBudget  uint64
	IdempotencyKey string
	Urgency        float64
	EventID        string
	Strategy       string
	Clipped        bool
}

type OrderState string

const (
	StateBuilt     OrderState = "built"
	StateBroadcast OrderState = "broadcast"
	StateConfirmed OrderState = "confirmed"
	StateFailed    OrderState = "failed"
	StateTimedOut  OrderState = "timed_out"
	StateCancelled OrderState = "cancelled"
)

type OrderEvent string

const (
	EventBroadcast OrderEvent = "broadcast"
	EventConfirm   OrderEvent = "confirm"
	EventFail      OrderEvent = "fail"
	EventTimeout   OrderEvent = "timeout"
	EventCancel    OrderEvent = "cancel"
)

type StateMachine struct {
	mu    sync.Mutex
	State OrderState
}

func NewStateMachine() *StateMachine {
	return &StateMachine{State: StateBuilt}
}

func (s *StateMachine) Apply(event OrderEvent) OrderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = nextState(s.State, event)
	return s.State
}

// nextState enforces the order lifecycle. Cancellation is only valid before
// broadcast; a timed-out order can still confirm when a late confirmation
// arrives.
func nextState(current OrderState, event OrderEvent) OrderState {
	switch current {
	case StateBuilt:
		if event == EventBroadcast {
			return StateBroadcast
		}
		if event == EventCancel {
			return StateCancelled
		}
		if event == EventFail {
			return StateFailed
		}
	case StateBroadcast:
		if event == EventConfirm {
			return StateConfirmed
		}
		if event == EventFail {
			return StateFailed
		}
		if event == EventTimeout {
			return StateTimedOut
		}
	case StateTimedOut:
		if event == EventConfirm {
			return StateConfirmed
		}
	}
	return current
}

// SubmissionResult is the terminal record of an order's journey, emitted for
// ledger updates and reporting.
type SubmissionResult struct {
	Order      Order      `json:"order"`
	Signature  string     `json:"signature,omitempty"`
	Status     OrderState `json:"status"`
	FillPrice  float64    `json:"fill_price,omitempty"`
	FillAmount float64    `json:"fill_amount,omitempty"`
	Error      string     `json:"error,omitempty"`
}
