package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the ledger's current holding of one asset.
// TotalCostBasis is kept equal to Quantity * AverageCost by the ledger.
type Position struct {
	Asset          string          // Token mint / instrument identifier
	Quantity       decimal.Decimal // Units currently held, never negative
	AverageCost    decimal.Decimal // Cost per unit of the current holding
	TotalCostBasis decimal.Decimal // Quantity * AverageCost
	LastPrice      decimal.Decimal // Price of the most recent fill on this asset
	OpenedAt       time.Time
	UpdatedAt      time.Time
}

// IsOpen reports whether the position still holds a positive quantity.
func (p *Position) IsOpen() bool {
	return p != nil && p.Quantity.IsPositive()
}

// UnrealizedPnL returns the profit or loss of the holding if it were sold at mark.
func (p *Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(p.AverageCost).Mul(p.Quantity)
}
