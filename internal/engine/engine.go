// Package engine turns transactions into risk-gated, executed and recorded trades.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"copyTrader/internal/domain"
	"copyTrader/internal/ledger"
	"copyTrader/internal/ports"
	"copyTrader/internal/risk"
)

// Outcome is the terminal state of one Handle call.
type Outcome string

const (
	OutcomeSkipped    Outcome = "skipped"     // No signal in the transaction
	OutcomeSuppressed Outcome = "suppressed"  // Stop-loss or take-profit gate tripped
	OutcomeNoPosition Outcome = "no_position" // Sell signal for an asset we do not hold
	OutcomeDiscarded  Outcome = "discarded"   // Sized amount was not positive
	OutcomeAbandoned  Outcome = "abandoned"   // Context ended before submission
	OutcomeFailed     Outcome = "failed"
	OutcomeExecuted   Outcome = "executed"
)

// Result describes what Handle did with a transaction.
type Result struct {
	Outcome    Outcome
	Signal     domain.TradeSignal
	GateReason domain.GateReason
	PnLPercent decimal.Decimal     // Position PnL seen by the gate, zero without a position
	Execution  *domain.Execution   // Set when executed
	Record     *domain.TradeRecord // Set when a sell was executed
}

// Deps are the collaborators of the Engine.
type Deps struct {
	Extractor ports.SignalExtractor
	Ledger    *ledger.Ledger
	Risk      *risk.RiskManager
	Executor  ports.OrderExecutor
	Prices    ports.PriceSource
	Journal   ports.Journal // Optional
	Logger    ports.Logger
}

// Engine is the decision pipeline. It is safe for concurrent use; decisions on
// the same asset are serialized through the ledger.
type Engine struct {
	extractor ports.SignalExtractor
	ledger    *ledger.Ledger
	risk      *risk.RiskManager
	executor  ports.OrderExecutor
	prices    ports.PriceSource
	journal   ports.Journal
	logger    ports.Logger
	newID     func() string

	mu       sync.Mutex
	outcomes map[Outcome]int
}

// New creates a decision engine.
func New(deps Deps) (*Engine, error) {
	if deps.Extractor == nil || deps.Ledger == nil || deps.Risk == nil || deps.Executor == nil || deps.Prices == nil || deps.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Engine")
	}
	return &Engine{
		extractor: deps.Extractor,
		ledger:    deps.Ledger,
		risk:      deps.Risk,
		executor:  deps.Executor,
		prices:    deps.Prices,
		journal:   deps.Journal,
		logger:    deps.Logger,
		newID:     func() string { return uuid.New().String() },
		outcomes:  make(map[Outcome]int),
	}, nil
}

// Handle runs one transaction through extraction, the risk gate, sizing,
// execution and the ledger update. Only failed executions return an error;
// every other outcome is reported through Result.
//
// Once an order is submitted the rest of Handle ignores ctx cancellation, so
// a confirmed fill is always applied and journaled.
func (e *Engine) Handle(ctx context.Context, tx *domain.Transaction) (Result, error) {
	signal, ok := e.extractor.Extract(tx)
	if !ok {
		return e.finish(Result{Outcome: OutcomeSkipped}), nil
	}

	res := Result{Signal: signal}
	fields := map[string]interface{}{
		"asset":     signal.Asset,
		"side":      signal.Side,
		"pct":       signal.Percentage.String(),
		"leader":    signal.Leader,
		"signature": signal.SourceSignature,
	}

	var handleErr error
	err := e.ledger.Do(ctx, signal.Asset, func(v *ledger.AssetView) error {
		res, handleErr = e.decide(ctx, v, res, fields)
		return handleErr
	})
	if err != nil && res.Outcome == "" {
		// The per-asset lock was never acquired.
		e.logger.Debug(ctx, "Abandoned signal while waiting for asset lock", fields)
		res.Outcome = OutcomeAbandoned
		return e.finish(res), nil
	}
	return e.finish(res), handleErr
}

func (e *Engine) decide(ctx context.Context, v *ledger.AssetView, res Result, fields map[string]interface{}) (Result, error) {
	signal := res.Signal
	pos, hasPos := v.Position()

	reference := decimal.Zero
	if hasPos {
		reference = e.markPrice(ctx, signal.Asset, pos, fields)
		pnl, err := v.PnLPercent(reference)
		if err != nil {
			res.Outcome = OutcomeFailed
			return res, fmt.Errorf("gate %s: %w", signal.Asset, err)
		}
		res.PnLPercent = pnl
		if suppress, reason := e.risk.ShouldSuppress(pnl); suppress {
			res.Outcome = OutcomeSuppressed
			res.GateReason = reason
			e.logger.Info(ctx, "Trade suppressed by risk gate", fields, map[string]interface{}{
				"reason": reason,
				"pnlPct": pnl.StringFixed(4),
			})
			return res, nil
		}
	} else {
		if signal.Side == domain.Sell {
			res.Outcome = OutcomeNoPosition
			e.logger.Info(ctx, "Ignoring sell signal without an open position", fields)
			return res, nil
		}
		// Reference price for the slippage bound only; a buy may proceed without one.
		if mark, err := e.prices.MarkPrice(ctx, signal.Asset); err == nil {
			reference = mark
		} else {
			e.logger.Debug(ctx, "No reference price for new position", fields, map[string]interface{}{"error": err.Error()})
		}
	}

	amount := e.risk.TradeAmount(signal.Percentage)
	if !amount.IsPositive() {
		res.Outcome = OutcomeDiscarded
		e.logger.Info(ctx, "Discarding signal with non-positive trade amount", fields, map[string]interface{}{"amount": amount.String()})
		return res, nil
	}
	if signal.Side == domain.Sell && amount.GreaterThan(pos.Quantity) {
		// Selling more than the holding would open a short on a derivatives venue.
		e.logger.Debug(ctx, "Capping sell at held quantity", fields, map[string]interface{}{
			"amount": amount.String(),
			"held":   pos.Quantity.String(),
		})
		amount = pos.Quantity
	}

	if ctx.Err() != nil {
		res.Outcome = OutcomeAbandoned
		e.logger.Debug(ctx, "Abandoned signal before submission", fields)
		return res, nil
	}

	req := domain.OrderRequest{
		ClientOrderID:  e.newID(),
		Side:           signal.Side,
		Asset:          signal.Asset,
		Quantity:       amount,
		SlippageBps:    decimal.NewFromInt(int64(e.risk.SlippageBps(signal.Side, signal.Asset))),
		ReferencePrice: reference,
	}

	// A submitted order cannot be recalled, so nothing after this point may be
	// cut short by shutdown.
	ctx = context.WithoutCancel(ctx)
	fill, err := e.executor.Submit(ctx, req)
	if err == nil {
		err = validateFill(fill)
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		var execErr *ports.ExecutionError
		if !errors.As(err, &execErr) {
			err = ports.NewExecutionError("submit order", err)
		}
		e.logger.Error(ctx, err, "Order execution failed", fields, map[string]interface{}{
			"clientOrderId": req.ClientOrderID,
			"quantity":      req.Quantity.String(),
		})
		return res, fmt.Errorf("execute %s %s: %w", signal.Side, signal.Asset, err)
	}
	if fill.Timestamp.IsZero() {
		fill.Timestamp = time.Now().UTC()
	}

	exec := &domain.Execution{
		ID:                e.newID(),
		ClientOrderID:     req.ClientOrderID,
		ConfirmationID:    fill.ConfirmationID,
		SourceSignature:   signal.SourceSignature,
		Asset:             signal.Asset,
		Side:              signal.Side,
		RequestedQuantity: req.Quantity,
		FilledQuantity:    fill.Quantity,
		FilledPrice:       fill.Price,
		SlippageBps:       req.SlippageBps,
		ExecutedAt:        fill.Timestamp,
	}

	switch signal.Side {
	case domain.Buy:
		err = v.ApplyBuy(fill.Quantity, fill.Price)
	case domain.Sell:
		var rec domain.TradeRecord
		rec, err = v.ApplySell(fill.Quantity, fill.Price)
		if err == nil {
			res.Record = &rec
		}
	}
	if err != nil {
		// Unreachable for validated fills; surfaced so the discrepancy is visible.
		res.Outcome = OutcomeFailed
		e.logger.Error(ctx, err, "Failed to apply fill to ledger", fields, map[string]interface{}{"confirmationId": fill.ConfirmationID})
		return res, fmt.Errorf("apply fill %s: %w", fill.ConfirmationID, err)
	}

	res.Outcome = OutcomeExecuted
	res.Execution = exec
	e.record(ctx, exec, res.Record)

	logFields := map[string]interface{}{
		"confirmationId": fill.ConfirmationID,
		"requested":      req.Quantity.String(),
		"filled":         fill.Quantity.String(),
		"price":          fill.Price.String(),
	}
	if res.Record != nil {
		logFields["realizedPnl"] = res.Record.PnL().String()
	}
	e.logger.Info(ctx, "Trade executed", fields, logFields)
	return res, nil
}

// markPrice falls back to the position's last fill price when the source fails.
func (e *Engine) markPrice(ctx context.Context, asset string, pos domain.Position, fields map[string]interface{}) decimal.Decimal {
	mark, err := e.prices.MarkPrice(ctx, asset)
	if err == nil && mark.IsPositive() {
		return mark
	}
	if err == nil {
		err = fmt.Errorf("non-positive mark %s: %w", mark, ports.ErrPriceUnavailable)
	}
	e.logger.Warn(ctx, "Mark price unavailable, using last fill price", fields, map[string]interface{}{
		"error":     err.Error(),
		"lastPrice": pos.LastPrice.String(),
	})
	return pos.LastPrice
}

// record journals the execution and trade. Failures are logged; the ledger
// stays authoritative for the running process.
func (e *Engine) record(ctx context.Context, exec *domain.Execution, rec *domain.TradeRecord) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordExecution(ctx, exec); err != nil {
		e.logger.Error(ctx, err, "Failed to journal execution", map[string]interface{}{"executionId": exec.ID, "asset": exec.Asset})
	}
	if rec == nil {
		return
	}
	if err := e.journal.RecordTrade(ctx, rec); err != nil {
		e.logger.Error(ctx, err, "Failed to journal trade record", map[string]interface{}{"tradeId": rec.ID, "asset": rec.Asset})
	}
}

func validateFill(fill domain.Fill) error {
	if !fill.Quantity.IsPositive() || !fill.Price.IsPositive() {
		return ports.NewExecutionError(
			fmt.Sprintf("venue reported invalid fill %s @ %s", fill.Quantity, fill.Price),
			ports.ErrInvalidQuantity,
		)
	}
	return nil
}

func (e *Engine) finish(res Result) Result {
	e.mu.Lock()
	e.outcomes[res.Outcome]++
	e.mu.Unlock()
	return res
}

// Outcomes returns how many transactions ended in each outcome so far.
func (e *Engine) Outcomes() map[Outcome]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[Outcome]int, len(e.outcomes))
	for k, v := range e.outcomes {
		out[k] = v
	}
	return out
}
