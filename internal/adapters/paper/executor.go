// Package paper simulates a venue: orders fill in full at the mark price
// moved against the trader by a fixed simulated slippage.
package paper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"copyTrader/internal/domain"
	"copyTrader/internal/ports"
)

var bpsDivisor = decimal.NewFromInt(10000)

// Config configures the paper venue.
type Config struct {
	Prices      ports.PriceSource
	SlippageBps int // Simulated adverse price move applied to every fill
	Logger      ports.Logger
}

// Executor implements ports.OrderExecutor without touching a real venue.
type Executor struct {
	prices   ports.PriceSource
	slippage decimal.Decimal
	logger   ports.Logger
	now      func() time.Time
}

// New creates a paper executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Prices == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("price source and logger are required for paper executor")
	}
	if cfg.SlippageBps < 0 {
		return nil, fmt.Errorf("simulated slippage must not be negative, got %d", cfg.SlippageBps)
	}
	return &Executor{
		prices:   cfg.Prices,
		slippage: decimal.NewFromInt(int64(cfg.SlippageBps)),
		logger:   cfg.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Submit fills the whole request at the simulated price. The order is
// rejected when that price falls outside the request's slippage bound around
// its reference price.
func (e *Executor) Submit(ctx context.Context, req domain.OrderRequest) (domain.Fill, error) {
	if !req.Quantity.IsPositive() {
		return domain.Fill{}, ports.NewExecutionError(fmt.Sprintf("quantity %s", req.Quantity), ports.ErrInvalidQuantity)
	}

	mark, err := e.prices.MarkPrice(ctx, req.Asset)
	if err != nil {
		return domain.Fill{}, ports.NewExecutionError("no price for "+req.Asset, err)
	}

	price := adjust(req.Side, mark, e.slippage)
	if req.ReferencePrice.IsPositive() {
		bound := adjust(req.Side, req.ReferencePrice, req.SlippageBps)
		if (req.Side == domain.Buy && price.GreaterThan(bound)) || (req.Side == domain.Sell && price.LessThan(bound)) {
			return domain.Fill{}, ports.NewExecutionError(
				fmt.Sprintf("simulated price %s beyond slippage bound %s", price, bound), nil)
		}
	}

	fill := domain.Fill{
		ConfirmationID: "paper-" + uuid.New().String(),
		Quantity:       req.Quantity,
		Price:          price,
		Timestamp:      e.now(),
	}
	e.logger.Info(ctx, "Paper order filled", map[string]interface{}{
		"asset":         req.Asset,
		"side":          req.Side,
		"quantity":      fill.Quantity.String(),
		"price":         fill.Price.String(),
		"clientOrderId": req.ClientOrderID,
	})
	return fill, nil
}

// adjust moves price against the trader by bps: up for buys, down for sells.
func adjust(side domain.OrderSide, price, bps decimal.Decimal) decimal.Decimal {
	offset := price.Mul(bps).Div(bpsDivisor)
	if side == domain.Buy {
		return price.Add(offset)
	}
	return price.Sub(offset)
}
