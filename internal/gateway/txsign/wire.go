package txsign

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SwapWire builds the wire form of a swap from float inputs. Amounts are
// rendered as trimmed decimal strings so that the same swap always encodes
// to the same bytes.
func SwapWire(asset string, isBuy bool, amount, limitPrice, maxSlippage float64, priorityFee, computeBudget uint64) (SwapAction, error) {
	if asset == "" {
		return SwapAction{}, errors.New("asset is required")
	}
	amountWire, err := floatToWire(amount)
	if err != nil {
		return SwapAction{}, fmt.Errorf("amount: %w", err)
	}
	priceWire, err := floatToWire(limitPrice)
	if err != nil {
		return SwapAction{}, fmt.Errorf("limit price: %w", err)
	}
	slippageWire, err := floatToWire(maxSlippage)
	if err != nil {
		return SwapAction{}, fmt.Errorf("max slippage: %w", err)
	}
	return SwapAction{
		Type:          "swap",
		Asset:         asset,
		IsBuy:         isBuy,
		Amount:        amountWire,
		LimitPrice:    priceWire,
		MaxSlippage:   slippageWire,
		PriorityFee:   priorityFee,
		ComputeBudget: computeBudget,
	}, nil
}

func floatToWire(x float64) (string, error) {
	rounded := fmt.Sprintf("%.8f", x)
	parsed, err := strconv.ParseFloat(rounded, 64)
	if err != nil {
		return "", err
	}
	if math.Abs(parsed-x) >= 1e-12 {
		return "", fmt.Errorf("float_to_wire causes rounding: %f", x)
	}
	trimmed := strings.TrimRight(rounded, "0")
	trimmed = strings.TrimRight(trimmed, ".")
	if trimmed == "" || trimmed == "-0" {
		trimmed = "0"
	}
	return trimmed, nil
}
