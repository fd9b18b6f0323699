package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyTrader/internal/domain"
	"copyTrader/internal/ports"
)

const mint = "So1anaTestMint1111111111111111111111111111"

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// assertCostBasisInvariant allows the rounding of AverageCost to
// decimal.DivisionPrecision places, scaled by the quantity held.
func assertCostBasisInvariant(t *testing.T, pos domain.Position) {
	t.Helper()
	diff := pos.TotalCostBasis.Sub(pos.Quantity.Mul(pos.AverageCost)).Abs()
	bound := pos.Quantity.Mul(decimal.New(1, -int32(decimal.DivisionPrecision)))
	assert.True(t, diff.LessThanOrEqual(bound), "cost basis %s != qty %s * avg %s (bound %s)",
		pos.TotalCostBasis, pos.Quantity, pos.AverageCost, bound)
}

func TestLedger_CostBasisWithRepeatingAverage(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyBuy(mint, d("1"), d("1")))
	require.NoError(t, l.ApplyBuy(mint, d("2"), d("2")))

	pos, ok := l.Position(mint)
	require.True(t, ok)
	assertDecimal(t, "5", pos.TotalCostBasis, "cost basis is the exact sum of fills")
	assertDecimal(t, "1.6666666666666667", pos.AverageCost)
	assertCostBasisInvariant(t, pos)

	rec, err := l.ApplySell(mint, d("1"), d("2"))
	require.NoError(t, err)
	assertDecimal(t, "0.3333333333333333", rec.RealizedPnL.Decimal)

	pos, _ = l.Position(mint)
	assertDecimal(t, "3.3333333333333334", pos.TotalCostBasis, "exact on sells: qty * avg")
	assert.True(t, pos.TotalCostBasis.Equal(pos.Quantity.Mul(pos.AverageCost)))
}

func TestLedger_ExampleScenario(t *testing.T) {
	l := New()

	require.NoError(t, l.ApplyBuy(mint, d("10"), d("100")))
	pos, ok := l.Position(mint)
	require.True(t, ok)
	assertDecimal(t, "100", pos.AverageCost)
	assertDecimal(t, "1000", pos.TotalCostBasis)

	require.NoError(t, l.ApplyBuy(mint, d("10"), d("120")))
	pos, _ = l.Position(mint)
	assertDecimal(t, "110", pos.AverageCost)
	assertDecimal(t, "2200", pos.TotalCostBasis)
	assertDecimal(t, "20", pos.Quantity)

	rec, err := l.ApplySell(mint, d("15"), d("130"))
	require.NoError(t, err)
	require.True(t, rec.RealizedPnL.Valid)
	assertDecimal(t, "300", rec.RealizedPnL.Decimal)
	assert.Equal(t, domain.Sell, rec.Side)
	assertDecimal(t, "15", rec.Quantity)

	pos, ok = l.Position(mint)
	require.True(t, ok)
	assertDecimal(t, "5", pos.Quantity)
	assertDecimal(t, "550", pos.TotalCostBasis)
	assertDecimal(t, "110", pos.AverageCost, "sells must not move the average cost")
	assertDecimal(t, "300", l.TotalRealizedPnL())
}

func TestLedger_AverageCostIsWeightedMean(t *testing.T) {
	buys := []struct{ qty, price string }{
		{"10", "100"},
		{"5", "130"},
		{"3", "97.5"},
		{"7", "101.25"},
		{"0.333", "99.99"},
	}

	l := New()
	sumQty, sumCost := decimal.Zero, decimal.Zero
	for _, b := range buys {
		require.NoError(t, l.ApplyBuy(mint, d(b.qty), d(b.price)))
		sumQty = sumQty.Add(d(b.qty))
		sumCost = sumCost.Add(d(b.qty).Mul(d(b.price)))

		pos, ok := l.Position(mint)
		require.True(t, ok)
		assert.True(t, sumCost.Div(sumQty).Equal(pos.AverageCost), "avg %s after buy %v", pos.AverageCost, b)
		assert.True(t, sumQty.Equal(pos.Quantity))
		assertCostBasisInvariant(t, pos)
	}
}

func TestLedger_SellClampsToHolding(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyBuy(mint, d("4"), d("50")))

	rec, err := l.ApplySell(mint, d("10"), d("60"))
	require.NoError(t, err)
	assertDecimal(t, "4", rec.Quantity, "realized quantity is clamped")
	assertDecimal(t, "40", rec.RealizedPnL.Decimal)

	_, ok := l.Position(mint)
	assert.False(t, ok, "position must be removed, never negative")
	assert.Empty(t, l.Positions())
}

func TestLedger_PartialSellKeepsInvariant(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyBuy(mint, d("3"), d("10")))
	require.NoError(t, l.ApplyBuy(mint, d("3"), d("11")))

	_, err := l.ApplySell(mint, d("1.5"), d("12"))
	require.NoError(t, err)

	pos, ok := l.Position(mint)
	require.True(t, ok)
	assertDecimal(t, "4.5", pos.Quantity)
	assertCostBasisInvariant(t, pos)
	assertDecimal(t, "12", pos.LastPrice)
}

func TestLedger_Errors(t *testing.T) {
	tests := []struct {
		name    string
		run     func(l *Ledger) error
		wantErr error
	}{
		{
			name:    "buy zero quantity",
			run:     func(l *Ledger) error { return l.ApplyBuy(mint, decimal.Zero, d("1")) },
			wantErr: ports.ErrInvalidQuantity,
		},
		{
			name:    "buy negative quantity",
			run:     func(l *Ledger) error { return l.ApplyBuy(mint, d("-1"), d("1")) },
			wantErr: ports.ErrInvalidQuantity,
		},
		{
			name:    "buy zero price",
			run:     func(l *Ledger) error { return l.ApplyBuy(mint, d("1"), decimal.Zero) },
			wantErr: ports.ErrInvalidQuantity,
		},
		{
			name: "sell without position",
			run: func(l *Ledger) error {
				_, err := l.ApplySell(mint, d("1"), d("1"))
				return err
			},
			wantErr: ports.ErrUnknownAsset,
		},
		{
			name: "pnl without position",
			run: func(l *Ledger) error {
				_, err := l.CurrentPnLPercent(mint, d("1"))
				return err
			},
			wantErr: ports.ErrUnknownAsset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			err := tt.run(l)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, l.History(), "failed operations must not append records")
			assert.Empty(t, l.Positions())
		})
	}
}

func TestLedger_CurrentPnLPercent(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyBuy(mint, d("1"), d("100")))

	tests := []struct {
		mark string
		want string
	}{
		{"89", "-11"},
		{"91", "-9"},
		{"100", "0"},
		{"125", "25"},
	}
	for _, tt := range tests {
		got, err := l.CurrentPnLPercent(mint, d(tt.mark))
		require.NoError(t, err)
		assertDecimal(t, tt.want, got, "mark %s", tt.mark)
	}
}

func TestLedger_TotalRealizedPnLMatchesHistory(t *testing.T) {
	l := New()
	steps := []func() error{
		func() error { return l.ApplyBuy("A", d("10"), d("5")) },
		func() error { _, err := l.ApplySell("A", d("4"), d("6")); return err },
		func() error { return l.ApplyBuy("B", d("2"), d("50")) },
		func() error { _, err := l.ApplySell("B", d("2"), d("40")); return err },
		func() error { _, err := l.ApplySell("A", d("100"), d("4.5")); return err },
	}

	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)

		sum := decimal.Zero
		for _, rec := range l.History() {
			require.True(t, rec.RealizedPnL.Valid)
			sum = sum.Add(rec.RealizedPnL.Decimal)
		}
		assert.True(t, sum.Equal(l.TotalRealizedPnL()), "step %d", i)
		assert.True(t, l.TotalRealizedPnL().Equal(l.TotalRealizedPnL()), "recomputation is idempotent")
	}

	// 4*(6-5) + 2*(40-50) + 6*(4.5-5) = 4 - 20 - 3
	assertDecimal(t, "-19", l.TotalRealizedPnL())
}

func TestLedger_HistoryIsRestartableCopy(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyBuy(mint, d("2"), d("10")))
	_, err := l.ApplySell(mint, d("1"), d("11"))
	require.NoError(t, err)

	first := l.History()
	second := l.History()
	require.Len(t, first, 1)
	assert.Equal(t, first, second)

	first[0].Asset = "mutated"
	assert.Equal(t, mint, l.History()[0].Asset, "callers cannot mutate the ledger through History")
}

func TestLedger_BuysProduceNoRecords(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyBuy(mint, d("1"), d("1")))
	require.NoError(t, l.ApplyBuy(mint, d("1"), d("2")))
	assert.Empty(t, l.History())
}

func TestLedger_ConcurrentFullSellsSerialize(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyBuy(mint, d("10"), d("100")))

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		unknown   int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := l.Do(context.Background(), mint, func(v *AssetView) error {
				pos, ok := v.Position()
				if !ok {
					return ports.ErrUnknownAsset
				}
				_, err := v.ApplySell(pos.Quantity, d("120"))
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ports.ErrUnknownAsset):
				unknown++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, unknown)
	require.Len(t, l.History(), 1)
	assertDecimal(t, "200", l.TotalRealizedPnL(), "no double PnL")
	_, ok := l.Position(mint)
	assert.False(t, ok)
}

func TestLedger_ConcurrentDirectSells(t *testing.T) {
	l := New()
	require.NoError(t, l.ApplyBuy(mint, d("10"), d("100")))

	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ApplySell(mint, d("10"), d("90"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ports.ErrUnknownAsset)
	}
	assert.Equal(t, 1, ok)
	assertDecimal(t, "-100", l.TotalRealizedPnL())
}

func TestLedger_DoAbandonsWaitOnCancel(t *testing.T) {
	l := New()
	holding := make(chan struct{})
	releaseHolder := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = l.Do(context.Background(), mint, func(v *AssetView) error {
			close(holding)
			<-releaseHolder
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := l.Do(ctx, mint, func(v *AssetView) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ran)

	// Other assets are not blocked by the held lock.
	require.NoError(t, l.Do(context.Background(), "other", func(v *AssetView) error {
		return v.ApplyBuy(d("1"), d("1"))
	}))

	close(releaseHolder)
	<-done
	assert.Equal(t, 0, l.locks.size(), "idle lock entries are evicted")
}

func TestLedger_Replay(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	execs := []*domain.Execution{
		{ID: "1", Asset: mint, Side: domain.Buy, FilledQuantity: d("10"), FilledPrice: d("100"), ExecutedAt: t0},
		{ID: "2", Asset: mint, Side: domain.Buy, FilledQuantity: d("10"), FilledPrice: d("120"), ExecutedAt: t0.Add(time.Minute)},
		{ID: "3", Asset: mint, Side: domain.Sell, FilledQuantity: d("15"), FilledPrice: d("130"), ExecutedAt: t0.Add(2 * time.Minute)},
	}

	l := New()
	require.NoError(t, l.Replay(execs))

	pos, ok := l.Position(mint)
	require.True(t, ok)
	assertDecimal(t, "5", pos.Quantity)
	assertDecimal(t, "550", pos.TotalCostBasis)
	assert.Equal(t, t0, pos.OpenedAt)

	hist := l.History()
	require.Len(t, hist, 1)
	assert.Equal(t, t0.Add(2*time.Minute), hist[0].Timestamp)
	assertDecimal(t, "300", l.TotalRealizedPnL())
}

func TestLedger_ReplayRejectsInvalidExecution(t *testing.T) {
	l := New()
	err := l.Replay([]*domain.Execution{
		{ID: "bad", Asset: mint, Side: domain.Sell, FilledQuantity: d("1"), FilledPrice: d("1")},
	})
	assert.ErrorIs(t, err, ports.ErrUnknownAsset)
}

func TestLedger_WithClock(t *testing.T) {
	fixed := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	l := New(WithClock(func() time.Time { return fixed }))
	require.NoError(t, l.ApplyBuy(mint, d("1"), d("1")))
	rec, err := l.ApplySell(mint, d("1"), d("2"))
	require.NoError(t, err)
	assert.Equal(t, fixed, rec.Timestamp)
	assert.NotEmpty(t, rec.ID)
}
