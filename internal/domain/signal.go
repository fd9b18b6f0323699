package domain

import "github.com/shopspring/decimal"

// TradeSignal is an intent derived from one observed transaction. It is never persisted.
type TradeSignal struct {
	Side            OrderSide
	Asset           string
	Percentage      decimal.Decimal // Share of the per-trade budget, in (0, 100]
	Leader          string          // Followed address whose activity produced the signal
	SourceSignature string
}
