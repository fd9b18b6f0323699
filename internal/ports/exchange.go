package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"copyTrader/internal/domain"
)

// OrderExecutor submits orders to a trading venue.
// This abstraction keeps the decision engine independent of any concrete venue.
type OrderExecutor interface {
	// Submit places the order and blocks until the venue confirms or rejects it.
	// Failures are reported as *ExecutionError. The returned Fill carries what the
	// venue actually executed, which may differ from the request.
	Submit(ctx context.Context, req domain.OrderRequest) (domain.Fill, error)
}

// PriceSource provides mark prices used by the risk gate.
type PriceSource interface {
	// MarkPrice returns the current price of one unit of asset.
	// Returns an error wrapping ErrPriceUnavailable if the asset cannot be priced.
	MarkPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// SignalExtractor maps a raw transaction to an optional trade signal.
// Implementations must be deterministic and free of side effects.
type SignalExtractor interface {
	// Extract returns false when the transaction carries no tradeable signal.
	Extract(tx *domain.Transaction) (domain.TradeSignal, bool)
}
