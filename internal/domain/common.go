package domain

import "strings"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// ParseSide converts a case-insensitive side name into an OrderSide.
// The second return value is false for anything other than buy or sell.
func ParseSide(s string) (OrderSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(Buy):
		return Buy, true
	case string(Sell):
		return Sell, true
	default:
		return "", false
	}
}

// GateReason indicates why the risk gate suppressed a trade.
type GateReason string

const (
	GateReasonNone       GateReason = ""
	GateReasonStopLoss   GateReason = "STOP_LOSS"
	GateReasonTakeProfit GateReason = "TAKE_PROFIT"
)
