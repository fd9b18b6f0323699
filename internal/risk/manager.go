package risk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"copyTrader/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Threshold is one side of the stop-loss/take-profit circuit breaker.
// Percent is a positive magnitude; stop-loss compares against its negation.
type Threshold struct {
	Enabled bool
	Percent decimal.Decimal
}

// RiskConfig holds configuration for risk management
type RiskConfig struct {
	AmountPerTrade decimal.Decimal // Asset units traded at 100% signal strength
	StopLoss       Threshold
	TakeProfit     Threshold
	SlippageBps    int
}

// Validate reports every invalid field at once.
func (c RiskConfig) Validate() error {
	var errs []error
	if !c.AmountPerTrade.IsPositive() {
		errs = append(errs, fmt.Errorf("amount per trade must be positive, got %s", c.AmountPerTrade))
	}
	if c.StopLoss.Enabled && !c.StopLoss.Percent.IsPositive() {
		errs = append(errs, fmt.Errorf("stop-loss percent must be positive when enabled, got %s", c.StopLoss.Percent))
	}
	if c.TakeProfit.Enabled && !c.TakeProfit.Percent.IsPositive() {
		errs = append(errs, fmt.Errorf("take-profit percent must be positive when enabled, got %s", c.TakeProfit.Percent))
	}
	if c.SlippageBps < 0 || c.SlippageBps > 10000 {
		errs = append(errs, fmt.Errorf("slippage must be within [0, 10000] bps, got %d", c.SlippageBps))
	}
	return errors.Join(errs...)
}

// SlippagePolicy decides the worst acceptable price deviation for an order.
type SlippagePolicy interface {
	BoundBps(side domain.OrderSide, asset string) int
}

// FixedSlippage applies the same bound to every order.
type FixedSlippage int

func (f FixedSlippage) BoundBps(domain.OrderSide, string) int { return int(f) }

// RiskStats counts gate and sizing decisions.
type RiskStats struct {
	Evaluated       int
	StopLossHits    int
	TakeProfitHits  int
	DiscardedAmount int
}

// RiskManager implements risk management functionality
type RiskManager struct {
	config   RiskConfig
	slippage SlippagePolicy

	mu    sync.Mutex
	stats RiskStats
}

// Option configures a RiskManager.
type Option func(*RiskManager)

// WithSlippagePolicy replaces the default fixed policy built from SlippageBps.
func WithSlippagePolicy(p SlippagePolicy) Option {
	return func(r *RiskManager) { r.slippage = p }
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig, opts ...Option) *RiskManager {
	r := &RiskManager{
		config:   config,
		slippage: FixedSlippage(config.SlippageBps),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the manager's configuration.
func (r *RiskManager) Config() RiskConfig {
	return r.config
}

// ShouldSuppress reports whether a trade must be skipped given the current
// unrealized PnL percentage of the position. Both bounds are inclusive and the
// decision does not depend on the trade direction.
func (r *RiskManager) ShouldSuppress(pnlPercent decimal.Decimal) (bool, domain.GateReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Evaluated++

	if r.config.StopLoss.Enabled && pnlPercent.LessThanOrEqual(r.config.StopLoss.Percent.Neg()) {
		r.stats.StopLossHits++
		return true, domain.GateReasonStopLoss
	}
	if r.config.TakeProfit.Enabled && pnlPercent.GreaterThanOrEqual(r.config.TakeProfit.Percent) {
		r.stats.TakeProfitHits++
		return true, domain.GateReasonTakeProfit
	}
	return false, domain.GateReasonNone
}

// TradeAmount scales AmountPerTrade by the signal percentage. A non-positive
// result means the trade should be discarded.
func (r *RiskManager) TradeAmount(percentage decimal.Decimal) decimal.Decimal {
	amount := r.config.AmountPerTrade.Mul(percentage).Div(hundred)
	if !amount.IsPositive() {
		r.mu.Lock()
		r.stats.DiscardedAmount++
		r.mu.Unlock()
	}
	return amount
}

// SlippageBps returns the slippage bound for an order.
func (r *RiskManager) SlippageBps(side domain.OrderSide, asset string) int {
	return r.slippage.BoundBps(side, asset)
}

// GetStats returns a snapshot of the risk management statistics
func (r *RiskManager) GetStats() RiskStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
