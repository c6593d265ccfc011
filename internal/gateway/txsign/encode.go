package txsign

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeSwapAction serializes a swap action with a fixed key order. The
// encoding must be byte-stable because both the signing digest and the
// idempotency key are derived from it.
func EncodeSwapAction(action SwapAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if action.Asset == "" {
		return nil, errors.New("action asset is required")
	}
	if action.Amount == "" {
		return nil, errors.New("action amount is required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(8); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("type"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(action.Type); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("asset"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(action.Asset); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("isBuy"); err != nil {
		return nil, err
	}
	if err := enc.EncodeBool(action.IsBuy); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("amount"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(action.Amount); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("limitPrice"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(action.LimitPrice); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("maxSlippage"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(action.MaxSlippage); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("priorityFee"); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint(action.PriorityFee); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("computeBudget"); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint(action.ComputeBudget); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
