package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// parseEvent translates a raw upstream message into a MarketEvent. Upstream
// schemas drift, so field lookup is tolerant of the common aliases. Returns
// false for messages that are not market events (acks, pongs, unknown
// channels).
func parseEvent(msg json.RawMessage) (MarketEvent, bool) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		return MarketEvent{}, false
	}
	channel := strings.ToLower(stringFromAny(payload["channel"]))
	data, ok := payload["data"].(map[string]any)
	if !ok {
		return MarketEvent{}, false
	}
	switch channel {
	case "listing", "newpool", "newlisting":
		return parseListing(data)
	case "trade", "wallettrade":
		return parseTrade(data)
	case "tick", "price", "pricetick":
		return parseTick(data)
	}
	return MarketEvent{}, false
}

func parseListing(data map[string]any) (MarketEvent, bool) {
	asset := assetFromAny(data)
	if asset == "" {
		return MarketEvent{}, false
	}
	ev := MarketEvent{
		ID:    stringFromAny(data["id"]),
		Kind:  KindListing,
		Asset: asset,
		Pool:  stringFromAny(data["pool"]),
		Time:  timeFromAny(data["time"]),
	}
	if val, ok := floatFromAny(data["liquidity"]); ok {
		ev.Liquidity = val
	}
	if val, ok := floatFromAny(data["price"]); ok {
		ev.Price = val
	}
	if val, ok := boolFromAny(data["freezeAuthority"]); ok {
		ev.FreezeAuthority = val
	}
	if val, ok := floatFromAny(data["topHolderShare"]); ok {
		ev.TopHolderShare = val
	}
	return ev, true
}

func parseTrade(data map[string]any) (MarketEvent, bool) {
	asset := assetFromAny(data)
	if asset == "" {
		return MarketEvent{}, false
	}
	side := Side(strings.ToLower(stringFromAny(data["side"])))
	if side != SideBuy && side != SideSell {
		return MarketEvent{}, false
	}
	ev := MarketEvent{
		ID:     stringFromAny(data["id"]),
		Kind:   KindTrade,
		Asset:  asset,
		Side:   side,
		Wallet: strings.ToLower(stringFromAny(data["wallet"])),
		Time:   timeFromAny(data["time"]),
	}
	if val, ok := floatFromAny(data["price"]); ok {
		ev.Price = val
	}
	if val, ok := floatFromAny(data["size"]); ok {
		ev.Size = val
	}
	return ev, true
}

func parseTick(data map[string]any) (MarketEvent, bool) {
	asset := assetFromAny(data)
	if asset == "" {
		return MarketEvent{}, false
	}
	price, ok := floatFromAny(data["price"])
	if !ok {
		return MarketEvent{}, false
	}
	ev := MarketEvent{
		ID:    stringFromAny(data["id"]),
		Kind:  KindTick,
		Asset: asset,
		Price: price,
		Time:  timeFromAny(data["time"]),
	}
	if val, ok := floatFromAny(data["liquidity"]); ok {
		ev.Liquidity = val
	}
	return ev, true
}

func assetFromAny(data map[string]any) string {
	asset := stringFromAny(data["mint"])
	if asset == "" {
		asset = stringFromAny(data["asset"])
	}
	if asset == "" {
		asset = stringFromAny(data["token"])
	}
	return asset
}

func timeFromAny(v any) time.Time {
	ms := int64FromAny(v)
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', 0, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func boolFromAny(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		return parsed, err == nil
	case float64:
		return val != 0, true
	case int:
		return val != 0, true
	case json.Number:
		i, err := val.Int64()
		return i != 0, err == nil
	default:
		return false, false
	}
}

func int64FromAny(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return i
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err == nil {
			return i
		}
	}
	return 0
}
