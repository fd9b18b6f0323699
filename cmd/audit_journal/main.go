package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"copyTrader/internal/adapters/logger"
	"copyTrader/internal/adapters/sqlite"
	"copyTrader/internal/analytics"
	"copyTrader/internal/domain"
	"copyTrader/internal/ledger"
	"copyTrader/internal/ports"
	"copyTrader/internal/utils"
)

func main() {
	defaultDB := os.Getenv("DB_PATH")
	if defaultDB == "" {
		defaultDB = "./data/copy_trader.db"
	}
	dbPath := flag.String("db", defaultDB, "path to the SQLite journal")
	csvPath := flag.String("csv", "", "optional file to export the replayed trades to")
	flag.Parse()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: logger.NewNop()})
	if err != nil {
		log.Fatalf("Error opening journal: %v", err)
	}
	defer repo.Close()

	report, err := audit(context.Background(), repo, os.Stdout)
	if err != nil {
		repo.Close()
		log.Fatalf("Error auditing journal: %v", err)
	}

	if *csvPath != "" {
		if err := utils.WriteTradesToFile(report.Replayed, *csvPath); err != nil {
			repo.Close()
			log.Fatalf("Error writing %s: %v", *csvPath, err)
		}
		fmt.Printf("\nReplayed trades written to %s\n", *csvPath)
	}

	if len(report.Mismatches) > 0 {
		repo.Close()
		os.Exit(1)
	}
}

// auditReport is the outcome of replaying the journal.
type auditReport struct {
	Executions int
	Replayed   []domain.TradeRecord
	Positions  []domain.Position
	Summary    *analytics.Summary
	Mismatches []string
}

// audit replays the journaled executions into a fresh ledger and checks the
// realized trades it produces against the stored trade records.
func audit(ctx context.Context, journal ports.Journal, out io.Writer) (*auditReport, error) {
	execs, err := journal.ListExecutions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	stored, err := journal.ListTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	book := ledger.New()
	if err := book.Replay(execs); err != nil {
		return nil, err
	}

	report := &auditReport{
		Executions: len(execs),
		Replayed:   book.History(),
		Positions:  book.Positions(),
	}
	report.Summary = analytics.Summarize(report.Replayed)
	report.Mismatches = compareTrades(report.Replayed, stored)

	printReport(out, report)
	return report, nil
}

func compareTrades(replayed []domain.TradeRecord, stored []*domain.TradeRecord) []string {
	var mismatches []string
	if len(replayed) != len(stored) {
		mismatches = append(mismatches, fmt.Sprintf("replay produced %d trades, journal holds %d", len(replayed), len(stored)))
	}
	n := min(len(replayed), len(stored))
	for i := 0; i < n; i++ {
		r, s := replayed[i], stored[i]
		if r.Asset != s.Asset || r.Side != s.Side || !r.Quantity.Equal(s.Quantity) || !r.Price.Equal(s.Price) || !r.PnL().Equal(s.PnL()) {
			mismatches = append(mismatches, fmt.Sprintf(
				"trade %d (%s): replayed %s %s %s@%s pnl %s, stored %s %s %s@%s pnl %s",
				i, s.ID,
				r.Side, r.Asset, r.Quantity, r.Price, r.PnL(),
				s.Side, s.Asset, s.Quantity, s.Price, s.PnL()))
		}
	}
	return mismatches
}

func printReport(out io.Writer, r *auditReport) {
	fmt.Fprintf(out, "Executions replayed: %d\n", r.Executions)
	fmt.Fprintf(out, "Realized trades:     %d\n\n", len(r.Replayed))

	fmt.Fprintln(out, "## Open Positions")
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Asset\tQuantity\tAvgCost\tCostBasis\tLastPrice\tUnrealized@Last\t")
	for _, p := range r.Positions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			p.Asset, p.Quantity, p.AverageCost, p.TotalCostBasis, p.LastPrice, p.UnrealizedPnL(p.LastPrice))
	}
	w.Flush()

	s := r.Summary
	fmt.Fprintln(out, "\n## Performance")
	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Trades\tWinRate%\tTotalPnL\tGrossProfit\tGrossLoss\tPF\tLargestWin\tLargestLoss\tMaxDD\t")
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
		s.TotalTrades,
		s.WinRate.StringFixed(2),
		s.TotalPnL,
		s.GrossProfit,
		s.GrossLoss,
		s.ProfitFactor.StringFixed(2),
		s.LargestWin,
		s.LargestLoss,
		s.MaxDrawdown,
	)
	w.Flush()

	if len(r.Mismatches) == 0 {
		fmt.Fprintln(out, "\nJournal is consistent.")
		return
	}
	fmt.Fprintf(out, "\n## Mismatches (%d)\n", len(r.Mismatches))
	for _, m := range r.Mismatches {
		fmt.Fprintln(out, m)
	}
}
