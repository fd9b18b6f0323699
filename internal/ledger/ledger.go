// Package ledger keeps per-asset positions and the realized trade history.
//
// The Ledger is the only mutable state shared by concurrent decision tasks.
// Read-gate-then-write sequences for one asset run through Do, which holds an
// exclusive per-asset lock; different assets never block each other.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"copyTrader/internal/domain"
	"copyTrader/internal/ports"
)

var hundred = decimal.NewFromInt(100)

// Ledger stores open positions and the append-only trade history.
type Ledger struct {
	mu        sync.RWMutex // Guards positions and history
	positions map[string]*domain.Position
	history   []domain.TradeRecord

	locks *keyedLock
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		positions: make(map[string]*domain.Position),
		locks:     newKeyedLock(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ApplyBuy adds quantity at price to the asset's position, creating it if needed.
func (l *Ledger) ApplyBuy(asset string, quantity, price decimal.Decimal) error {
	release := l.locks.lock(asset)
	defer release()
	return l.applyBuy(asset, quantity, price, l.now())
}

// ApplySell realizes quantity at price against the asset's average cost.
// Selling more than is held clamps to the holding and closes the position.
func (l *Ledger) ApplySell(asset string, quantity, price decimal.Decimal) (domain.TradeRecord, error) {
	release := l.locks.lock(asset)
	defer release()
	return l.applySell(asset, quantity, price, l.now())
}

// CurrentPnLPercent returns (mark - averageCost) / averageCost * 100 for the
// asset's open position.
func (l *Ledger) CurrentPnLPercent(asset string, mark decimal.Decimal) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return pnlPercent(l.positions[asset], asset, mark)
}

// Position returns a copy of the asset's open position.
func (l *Ledger) Position(asset string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[asset]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions ordered by asset.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// TotalRealizedPnL sums the PnL of every trade record. It is recomputed on each
// call so it can never drift from History.
func (l *Ledger) TotalRealizedPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, rec := range l.history {
		total = total.Add(rec.PnL())
	}
	return total
}

// History returns the trade records in append order. Each call returns a fresh
// copy, so callers may iterate it as often as they like.
func (l *Ledger) History() []domain.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.TradeRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Do runs fn while holding the asset's exclusive lock. Waiting for the lock is
// abandoned if ctx is done, in which case fn does not run and ctx.Err() is returned.
func (l *Ledger) Do(ctx context.Context, asset string, fn func(v *AssetView) error) error {
	release, err := l.locks.acquire(ctx, asset)
	if err != nil {
		return err
	}
	defer release()
	return fn(&AssetView{ledger: l, asset: asset})
}

// Replay applies journaled executions in order. It is meant for rebuilding a
// fresh ledger at startup; record timestamps come from the executions.
func (l *Ledger) Replay(execs []*domain.Execution) error {
	for i, exec := range execs {
		if exec == nil {
			continue
		}
		release := l.locks.lock(exec.Asset)
		var err error
		switch exec.Side {
		case domain.Buy:
			err = l.applyBuy(exec.Asset, exec.FilledQuantity, exec.FilledPrice, exec.ExecutedAt)
		case domain.Sell:
			_, err = l.applySell(exec.Asset, exec.FilledQuantity, exec.FilledPrice, exec.ExecutedAt)
		default:
			err = fmt.Errorf("unknown side %q", exec.Side)
		}
		release()
		if err != nil {
			return fmt.Errorf("replay execution %d (%s): %w", i, exec.ID, err)
		}
	}
	return nil
}

// AssetView is the ledger as seen from inside Do: every operation targets the
// locked asset.
type AssetView struct {
	ledger *Ledger
	asset  string
}

// Asset returns the asset this view is bound to.
func (v *AssetView) Asset() string { return v.asset }

// Position returns a copy of the locked asset's open position.
func (v *AssetView) Position() (domain.Position, bool) {
	return v.ledger.Position(v.asset)
}

// PnLPercent returns the unrealized PnL percentage at mark.
func (v *AssetView) PnLPercent(mark decimal.Decimal) (decimal.Decimal, error) {
	return v.ledger.CurrentPnLPercent(v.asset, mark)
}

// ApplyBuy is Ledger.ApplyBuy for the locked asset.
func (v *AssetView) ApplyBuy(quantity, price decimal.Decimal) error {
	return v.ledger.applyBuy(v.asset, quantity, price, v.ledger.now())
}

// ApplySell is Ledger.ApplySell for the locked asset.
func (v *AssetView) ApplySell(quantity, price decimal.Decimal) (domain.TradeRecord, error) {
	return v.ledger.applySell(v.asset, quantity, price, v.ledger.now())
}

// applyBuy assumes the caller holds the asset lock.
func (l *Ledger) applyBuy(asset string, quantity, price decimal.Decimal, at time.Time) error {
	if !quantity.IsPositive() || !price.IsPositive() {
		return fmt.Errorf("buy %s %s @ %s: %w", asset, quantity, price, ports.ErrInvalidQuantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[asset]
	if !ok {
		pos = &domain.Position{Asset: asset, OpenedAt: at}
		l.positions[asset] = pos
	}
	pos.TotalCostBasis = pos.TotalCostBasis.Add(quantity.Mul(price))
	pos.Quantity = pos.Quantity.Add(quantity)
	// Rounded to decimal.DivisionPrecision places; the cost basis stays exact.
	pos.AverageCost = pos.TotalCostBasis.Div(pos.Quantity)
	pos.LastPrice = price
	pos.UpdatedAt = at
	return nil
}

// applySell assumes the caller holds the asset lock.
func (l *Ledger) applySell(asset string, quantity, price decimal.Decimal, at time.Time) (domain.TradeRecord, error) {
	if !quantity.IsPositive() || !price.IsPositive() {
		return domain.TradeRecord{}, fmt.Errorf("sell %s %s @ %s: %w", asset, quantity, price, ports.ErrInvalidQuantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[asset]
	if !ok {
		return domain.TradeRecord{}, fmt.Errorf("sell %s: %w", asset, ports.ErrUnknownAsset)
	}

	realized := decimal.Min(quantity, pos.Quantity)
	pnl := price.Sub(pos.AverageCost).Mul(realized)

	rec := domain.TradeRecord{
		ID:          uuid.New().String(),
		Timestamp:   at,
		Asset:       asset,
		Side:        domain.Sell,
		Quantity:    realized,
		Price:       price,
		RealizedPnL: decimal.NewNullDecimal(pnl),
	}
	l.history = append(l.history, rec)

	pos.Quantity = pos.Quantity.Sub(realized)
	if !pos.IsOpen() {
		delete(l.positions, asset)
		return rec, nil
	}
	pos.TotalCostBasis = pos.Quantity.Mul(pos.AverageCost)
	pos.LastPrice = price
	pos.UpdatedAt = at
	return rec, nil
}

func pnlPercent(pos *domain.Position, asset string, mark decimal.Decimal) (decimal.Decimal, error) {
	if pos == nil {
		return decimal.Zero, fmt.Errorf("pnl for %s: %w", asset, ports.ErrUnknownAsset)
	}
	if !pos.AverageCost.IsPositive() {
		return decimal.Zero, nil
	}
	return mark.Sub(pos.AverageCost).Div(pos.AverageCost).Mul(hundred), nil
}
