// Package analytics summarizes realized trading performance from ledger history.
package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"copyTrader/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Summary holds performance metrics over the realized trade records.
type Summary struct {
	// Basic Metrics
	TotalTrades   int
	WinningTrades int
	LosingTrades  int // Break-even trades count as neither
	WinRate       decimal.Decimal // Percent of trades with positive PnL
	TotalPnL      decimal.Decimal
	GrossProfit   decimal.Decimal
	GrossLoss     decimal.Decimal // Sum of losses, as a positive number
	ProfitFactor  decimal.Decimal // GrossProfit / GrossLoss, zero without losses
	AverageWin    decimal.Decimal
	AverageLoss   decimal.Decimal // Negative or zero
	LargestWin    decimal.Decimal
	LargestLoss   decimal.Decimal // Negative or zero
	Expectancy    decimal.Decimal // Mean PnL per trade

	// Advanced Metrics
	MaxDrawdown          decimal.Decimal // Largest peak-to-trough fall of cumulative PnL
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	MonthlyPnL           map[string]decimal.Decimal // "2006-01" -> realized PnL
	PerAsset             map[string]decimal.Decimal
	EquityCurve          []EquityPoint
}

// EquityPoint is the cumulative realized PnL after one trade.
type EquityPoint struct {
	Time     time.Time
	Value    decimal.Decimal
	Drawdown decimal.Decimal
}

// Summarize computes the summary over trades with a realized PnL.
// Records without one are ignored. The input slice is not modified.
func Summarize(trades []domain.TradeRecord) *Summary {
	s := &Summary{
		MonthlyPnL: make(map[string]decimal.Decimal),
		PerAsset:   make(map[string]decimal.Decimal),
	}

	realized := make([]domain.TradeRecord, 0, len(trades))
	for _, t := range trades {
		if t.RealizedPnL.Valid {
			realized = append(realized, t)
		}
	}
	if len(realized) == 0 {
		return s
	}
	sort.SliceStable(realized, func(i, j int) bool {
		return realized[i].Timestamp.Before(realized[j].Timestamp)
	})

	var equity, peak decimal.Decimal
	var consecutiveWins, consecutiveLosses int

	for _, trade := range realized {
		pnl := trade.RealizedPnL.Decimal
		s.TotalTrades++

		switch {
		case pnl.IsPositive():
			s.WinningTrades++
			s.GrossProfit = s.GrossProfit.Add(pnl)
			if pnl.GreaterThan(s.LargestWin) {
				s.LargestWin = pnl
			}
			consecutiveWins++
			consecutiveLosses = 0
		case pnl.IsNegative():
			s.LosingTrades++
			s.GrossLoss = s.GrossLoss.Add(pnl.Neg())
			if pnl.LessThan(s.LargestLoss) {
				s.LargestLoss = pnl
			}
			consecutiveLosses++
			consecutiveWins = 0
		default:
			consecutiveWins, consecutiveLosses = 0, 0
		}
		if consecutiveWins > s.MaxConsecutiveWins {
			s.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > s.MaxConsecutiveLosses {
			s.MaxConsecutiveLosses = consecutiveLosses
		}

		s.TotalPnL = s.TotalPnL.Add(pnl)
		month := trade.Timestamp.UTC().Format("2006-01")
		s.MonthlyPnL[month] = s.MonthlyPnL[month].Add(pnl)
		s.PerAsset[trade.Asset] = s.PerAsset[trade.Asset].Add(pnl)

		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		drawdown := peak.Sub(equity)
		if drawdown.GreaterThan(s.MaxDrawdown) {
			s.MaxDrawdown = drawdown
		}
		s.EquityCurve = append(s.EquityCurve, EquityPoint{
			Time:     trade.Timestamp,
			Value:    equity,
			Drawdown: drawdown,
		})
	}

	total := decimal.NewFromInt(int64(s.TotalTrades))
	s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Mul(hundred).Div(total)
	s.Expectancy = s.TotalPnL.Div(total)
	if s.WinningTrades > 0 {
		s.AverageWin = s.GrossProfit.Div(decimal.NewFromInt(int64(s.WinningTrades)))
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = s.GrossLoss.Neg().Div(decimal.NewFromInt(int64(s.LosingTrades)))
	}
	if s.GrossLoss.IsPositive() {
		s.ProfitFactor = s.GrossProfit.Div(s.GrossLoss)
	}
	return s
}

// MonthlyReturn is the realized PnL of one calendar month.
type MonthlyReturn struct {
	Month time.Time
	PnL   decimal.Decimal
}

// GetMonthlyReturns returns the monthly PnL sorted by month.
func (s *Summary) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(s.MonthlyPnL))
	for month, pnl := range s.MonthlyPnL {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{Month: date, PnL: pnl})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// Fields flattens the headline metrics for structured logging.
func (s *Summary) Fields() map[string]interface{} {
	return map[string]interface{}{
		"trades":        s.TotalTrades,
		"wins":          s.WinningTrades,
		"losses":        s.LosingTrades,
		"winRatePct":    s.WinRate.StringFixed(2),
		"totalPnL":      s.TotalPnL.String(),
		"grossProfit":   s.GrossProfit.String(),
		"grossLoss":     s.GrossLoss.String(),
		"profitFactor":  s.ProfitFactor.StringFixed(4),
		"largestWin":    s.LargestWin.String(),
		"largestLoss":   s.LargestLoss.String(),
		"maxDrawdown":   s.MaxDrawdown.String(),
		"maxWinStreak":  s.MaxConsecutiveWins,
		"maxLossStreak": s.MaxConsecutiveLosses,
	}
}
