package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is an immutable ledger entry. Only sells produce records, so
// RealizedPnL is always valid for records created by the ledger; it stays
// nullable to keep buys representable when records come from elsewhere.
type TradeRecord struct {
	ID          string
	Timestamp   time.Time
	Asset       string
	Side        OrderSide
	Quantity    decimal.Decimal // Realized quantity (clamped to the holding for sells)
	Price       decimal.Decimal
	RealizedPnL decimal.NullDecimal
}

// PnL returns the realized PnL, treating a null value as zero.
func (t TradeRecord) PnL() decimal.Decimal {
	if !t.RealizedPnL.Valid {
		return decimal.Zero
	}
	return t.RealizedPnL.Decimal
}

// OrderRequest is what the decision engine asks a venue to execute.
type OrderRequest struct {
	ClientOrderID  string
	Side           OrderSide
	Asset          string
	Quantity       decimal.Decimal
	SlippageBps    decimal.Decimal // Maximum acceptable deviation from ReferencePrice, in basis points
	ReferencePrice decimal.Decimal // Mark price seen by the engine, zero if unknown
}

// Fill is a venue's confirmation of an executed order.
type Fill struct {
	ConfirmationID string
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Timestamp      time.Time
}

// Execution is the journal entry written for every confirmed fill.
// Replaying executions in order rebuilds the ledger.
type Execution struct {
	ID                string
	ClientOrderID     string
	ConfirmationID    string
	SourceSignature   string
	Asset             string
	Side              OrderSide
	RequestedQuantity decimal.Decimal
	FilledQuantity    decimal.Decimal
	FilledPrice       decimal.Decimal
	SlippageBps       decimal.Decimal
	ExecutedAt        time.Time
}
