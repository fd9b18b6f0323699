package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"copyTrader/internal/analytics"
	"copyTrader/internal/engine"
	"copyTrader/internal/ledger"
	"copyTrader/internal/monitor"
	"copyTrader/internal/ports"
	"copyTrader/internal/risk"
)

// CopyTradingService owns the bot's lifecycle: ledger restore, the monitor
// run, and the shutdown report.
type CopyTradingService struct {
	logger  ports.Logger
	wallet  ports.Wallet
	ledger  *ledger.Ledger
	journal ports.Journal
	risk    *risk.RiskManager
	engine  *engine.Engine
	monitor *monitor.Monitor

	restoreLedger bool
	handleSignals bool
}

// Deps are the collaborators wired by main.
type Deps struct {
	Logger        ports.Logger
	Wallet        ports.Wallet
	Ledger        *ledger.Ledger
	Journal       ports.Journal // Optional, required for RestoreLedger
	Risk          *risk.RiskManager
	Engine        *engine.Engine
	Monitor       *monitor.Monitor
	RestoreLedger bool // Replay the journal into the ledger before monitoring
	HandleSignals bool // Cancel on SIGINT/SIGTERM
}

// NewCopyTradingService creates a new application service instance.
func NewCopyTradingService(deps Deps) (*CopyTradingService, error) {
	if deps.Logger == nil || deps.Wallet == nil || deps.Ledger == nil || deps.Risk == nil || deps.Engine == nil || deps.Monitor == nil {
		return nil, fmt.Errorf("missing required dependencies for CopyTradingService")
	}
	if deps.RestoreLedger && deps.Journal == nil {
		return nil, fmt.Errorf("%w: ledger restore requires a journal", ports.ErrConfigurationError)
	}
	return &CopyTradingService{
		logger:        deps.Logger,
		wallet:        deps.Wallet,
		ledger:        deps.Ledger,
		journal:       deps.Journal,
		risk:          deps.Risk,
		engine:        deps.Engine,
		monitor:       deps.Monitor,
		restoreLedger: deps.RestoreLedger,
		handleSignals: deps.HandleSignals,
	}, nil
}

// Start restores state and monitors followed addresses until ctx is cancelled
// or the subscription fails. It returns nil on a graceful shutdown.
func (s *CopyTradingService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Copy Trading Service...", map[string]interface{}{
		"wallet": s.wallet.PublicIdentity(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.handleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	if s.restoreLedger {
		if err := s.restore(ctx); err != nil {
			return err
		}
	}

	cfg := s.risk.Config()
	s.logger.Info(ctx, "Risk configuration", map[string]interface{}{
		"amountPerTrade":    cfg.AmountPerTrade.String(),
		"stopLossEnabled":   cfg.StopLoss.Enabled,
		"stopLossPct":       cfg.StopLoss.Percent.String(),
		"takeProfitEnabled": cfg.TakeProfit.Enabled,
		"takeProfitPct":     cfg.TakeProfit.Percent.String(),
		"slippageBps":       cfg.SlippageBps,
	})

	runErr := s.monitor.Run(ctx)
	s.report(context.WithoutCancel(ctx))
	if runErr != nil {
		s.logger.Error(ctx, runErr, "Copy Trading Service stopped on error")
		return fmt.Errorf("monitor stopped: %w", runErr)
	}

	s.logger.Info(ctx, "Copy Trading Service stopped.")
	return nil
}

// restore rebuilds the ledger from the journaled executions.
func (s *CopyTradingService) restore(ctx context.Context) error {
	execs, err := s.journal.ListExecutions(ctx)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to load journaled executions")
		return fmt.Errorf("failed to load executions: %w", err)
	}
	if err := s.ledger.Replay(execs); err != nil {
		s.logger.Error(ctx, err, "Failed to replay journaled executions")
		return fmt.Errorf("failed to replay executions: %w", err)
	}

	positions := s.ledger.Positions()
	s.logger.Info(ctx, "Ledger restored from journal", map[string]interface{}{
		"executions":  len(execs),
		"positions":   len(positions),
		"realizedPnL": s.ledger.TotalRealizedPnL().String(),
	})
	for _, p := range positions {
		s.logger.Info(ctx, "Restored position", map[string]interface{}{
			"asset":       p.Asset,
			"quantity":    p.Quantity.String(),
			"averageCost": p.AverageCost.String(),
		})
	}
	return nil
}

// report logs the shutdown summary.
func (s *CopyTradingService) report(ctx context.Context) {
	summary := analytics.Summarize(s.ledger.History())
	s.logger.Info(ctx, "Performance summary", summary.Fields())
	for _, m := range summary.GetMonthlyReturns() {
		s.logger.Debug(ctx, "Monthly realized PnL", map[string]interface{}{
			"month": m.Month.Format("2006-01"),
			"pnl":   m.PnL.String(),
		})
	}

	outcomes := make(map[string]interface{})
	for outcome, n := range s.engine.Outcomes() {
		outcomes[string(outcome)] = n
	}
	s.logger.Info(ctx, "Signal outcomes", outcomes)

	st := s.monitor.Stats()
	s.logger.Info(ctx, "Monitor statistics", map[string]interface{}{
		"received":    st.Received,
		"duplicates":  st.Duplicates,
		"abandoned":   st.Abandoned,
		"fetchErrors": st.FetchErrors,
		"handled":     st.Handled,
	})

	rs := s.risk.GetStats()
	s.logger.Info(ctx, "Risk gate statistics", map[string]interface{}{
		"evaluated":       rs.Evaluated,
		"stopLossHits":    rs.StopLossHits,
		"takeProfitHits":  rs.TakeProfitHits,
		"discardedAmount": rs.DiscardedAmount,
	})

	for _, p := range s.ledger.Positions() {
		s.logger.Info(ctx, "Open position", map[string]interface{}{
			"asset":       p.Asset,
			"quantity":    p.Quantity.String(),
			"averageCost": p.AverageCost.String(),
			"costBasis":   p.TotalCostBasis.String(),
		})
	}
}
