package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyTrader/internal/domain"
)

func testConfig() RiskConfig {
	return RiskConfig{
		AmountPerTrade: decimal.NewFromInt(10),
		StopLoss:       Threshold{Enabled: true, Percent: decimal.NewFromInt(10)},
		TakeProfit:     Threshold{Enabled: true, Percent: decimal.NewFromInt(50)},
		SlippageBps:    100,
	}
}

func TestRiskManager_ShouldSuppress(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(c *RiskConfig)
		pnl        string
		wantSuppr  bool
		wantReason domain.GateReason
	}{
		{name: "loss beyond stop-loss", pnl: "-11", wantSuppr: true, wantReason: domain.GateReasonStopLoss},
		{name: "loss within stop-loss", pnl: "-9", wantSuppr: false, wantReason: domain.GateReasonNone},
		{name: "stop-loss boundary is inclusive", pnl: "-10", wantSuppr: true, wantReason: domain.GateReasonStopLoss},
		{name: "flat", pnl: "0", wantSuppr: false, wantReason: domain.GateReasonNone},
		{name: "take-profit boundary is inclusive", pnl: "50", wantSuppr: true, wantReason: domain.GateReasonTakeProfit},
		{name: "gain below take-profit", pnl: "49.99", wantSuppr: false, wantReason: domain.GateReasonNone},
		{
			name:       "stop-loss disabled",
			modify:     func(c *RiskConfig) { c.StopLoss.Enabled = false },
			pnl:        "-90",
			wantSuppr:  false,
			wantReason: domain.GateReasonNone,
		},
		{
			name:       "take-profit disabled",
			modify:     func(c *RiskConfig) { c.TakeProfit.Enabled = false },
			pnl:        "500",
			wantSuppr:  false,
			wantReason: domain.GateReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.modify != nil {
				tt.modify(&cfg)
			}
			manager := NewRiskManager(cfg)

			suppressed, reason := manager.ShouldSuppress(decimal.RequireFromString(tt.pnl))
			assert.Equal(t, tt.wantSuppr, suppressed)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestRiskManager_TradeAmount(t *testing.T) {
	manager := NewRiskManager(testConfig())

	assert.True(t, decimal.NewFromInt(10).Equal(manager.TradeAmount(decimal.NewFromInt(100))))
	assert.True(t, decimal.RequireFromString("2.5").Equal(manager.TradeAmount(decimal.NewFromInt(25))))
	assert.True(t, manager.TradeAmount(decimal.Zero).IsZero())
	assert.Equal(t, 1, manager.GetStats().DiscardedAmount)
}

func TestRiskManager_Slippage(t *testing.T) {
	manager := NewRiskManager(testConfig())
	assert.Equal(t, 100, manager.SlippageBps(domain.Buy, "X"))

	custom := NewRiskManager(testConfig(), WithSlippagePolicy(sideSlippage{buy: 50, sell: 300}))
	assert.Equal(t, 50, custom.SlippageBps(domain.Buy, "X"))
	assert.Equal(t, 300, custom.SlippageBps(domain.Sell, "X"))
}

type sideSlippage struct{ buy, sell int }

func (s sideSlippage) BoundBps(side domain.OrderSide, _ string) int {
	if side == domain.Buy {
		return s.buy
	}
	return s.sell
}

func TestRiskManager_Stats(t *testing.T) {
	manager := NewRiskManager(testConfig())
	manager.ShouldSuppress(decimal.NewFromInt(-20))
	manager.ShouldSuppress(decimal.NewFromInt(60))
	manager.ShouldSuppress(decimal.NewFromInt(1))

	stats := manager.GetStats()
	assert.Equal(t, 3, stats.Evaluated)
	assert.Equal(t, 1, stats.StopLossHits)
	assert.Equal(t, 1, stats.TakeProfitHits)
}

func TestRiskConfig_Validate(t *testing.T) {
	require.NoError(t, testConfig().Validate())

	bad := RiskConfig{
		AmountPerTrade: decimal.Zero,
		StopLoss:       Threshold{Enabled: true},
		TakeProfit:     Threshold{Enabled: true, Percent: decimal.NewFromInt(-1)},
		SlippageBps:    -5,
	}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount per trade")
	assert.Contains(t, err.Error(), "stop-loss")
	assert.Contains(t, err.Error(), "take-profit")
	assert.Contains(t, err.Error(), "slippage")

	disabled := testConfig()
	disabled.StopLoss = Threshold{}
	assert.NoError(t, disabled.Validate(), "disabled thresholds need no percent")
}
