package analytics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyTrader/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func trade(asset string, at time.Time, pnl string) domain.TradeRecord {
	return domain.TradeRecord{
		ID:          asset + at.String(),
		Timestamp:   at,
		Asset:       asset,
		Side:        domain.Sell,
		Quantity:    d("1"),
		Price:       d("1"),
		RealizedPnL: decimal.NewNullDecimal(d(pnl)),
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.TotalTrades)
	assert.True(t, s.TotalPnL.IsZero())
	assert.True(t, s.WinRate.IsZero())
	assert.Empty(t, s.EquityCurve)
}

func TestSummarize(t *testing.T) {
	base := time.Date(2025, 3, 30, 12, 0, 0, 0, time.UTC)
	trades := []domain.TradeRecord{
		// Deliberately out of order.
		trade("MintB", base.Add(2*time.Hour), "-50"),
		trade("MintA", base, "100"),
		trade("MintA", base.Add(1*time.Hour), "200"),
		trade("MintB", base.Add(3*time.Hour), "-150"),
		trade("MintA", base.Add(72*time.Hour), "0"),
		trade("MintA", base.Add(96*time.Hour), "25"),
		{ID: "buy", Timestamp: base, Asset: "MintA", Side: domain.Buy}, // No realized PnL
	}

	s := Summarize(trades)

	assert.Equal(t, 6, s.TotalTrades)
	assert.Equal(t, 3, s.WinningTrades)
	assert.Equal(t, 2, s.LosingTrades)
	assert.True(t, s.WinRate.Equal(d("50")), s.WinRate.String())
	assert.True(t, s.TotalPnL.Equal(d("125")), s.TotalPnL.String())
	assert.True(t, s.GrossProfit.Equal(d("325")))
	assert.True(t, s.GrossLoss.Equal(d("200")))
	assert.True(t, s.ProfitFactor.Equal(d("1.625")), s.ProfitFactor.String())
	assert.True(t, s.LargestWin.Equal(d("200")))
	assert.True(t, s.LargestLoss.Equal(d("-150")))
	assert.True(t, s.AverageLoss.Equal(d("-100")))

	// Equity: 100, 300, 250, 100, 100, 125. Peak 300, trough 100.
	assert.True(t, s.MaxDrawdown.Equal(d("200")), s.MaxDrawdown.String())
	require.Len(t, s.EquityCurve, 6)
	assert.True(t, s.EquityCurve[3].Value.Equal(d("100")))
	assert.True(t, s.EquityCurve[3].Drawdown.Equal(d("200")))

	assert.Equal(t, 2, s.MaxConsecutiveWins)
	assert.Equal(t, 2, s.MaxConsecutiveLosses)

	assert.True(t, s.PerAsset["MintA"].Equal(d("325")))
	assert.True(t, s.PerAsset["MintB"].Equal(d("-200")))

	monthly := s.GetMonthlyReturns()
	require.Len(t, monthly, 2)
	assert.Equal(t, time.March, monthly[0].Month.Month())
	assert.True(t, monthly[0].PnL.Equal(d("100")))
	assert.Equal(t, time.April, monthly[1].Month.Month())
	assert.True(t, monthly[1].PnL.Equal(d("25")))

	// Input order untouched.
	assert.True(t, trades[0].RealizedPnL.Decimal.Equal(d("-50")))
}

func TestSummarize_NoLosses(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Summarize([]domain.TradeRecord{trade("MintA", at, "10"), trade("MintA", at.Add(time.Minute), "5")})

	assert.True(t, s.ProfitFactor.IsZero())
	assert.True(t, s.MaxDrawdown.IsZero())
	assert.True(t, s.WinRate.Equal(d("100")))
	assert.True(t, s.LargestLoss.IsZero())
}

func TestSummary_Fields(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Summarize([]domain.TradeRecord{trade("MintA", at, "10")}).Fields()

	assert.Equal(t, 1, f["trades"])
	assert.Equal(t, "100.00", f["winRatePct"])
	assert.Equal(t, "10", f["totalPnL"])
}
