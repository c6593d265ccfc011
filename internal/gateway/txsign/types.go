package txsign

// SwapAction is the canonical wire form of a swap instruction sent to the
// transaction gateway. Field order in the encoded payload is fixed; changing
// it changes every digest and idempotency key.
type SwapAction struct {
	Type          string `json:"type"`
	Asset         string `json:"asset"`
	IsBuy         bool   `json:"isBuy"`
	Amount        string `json:"amount"`
	LimitPrice    string `json:"limitPrice"`
	MaxSlippage   string `json:"maxSlippage"`
	PriorityFee   uint64 `json:"priorityFee"`
	ComputeBudget uint64 `json:"computeBudget"`
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}
