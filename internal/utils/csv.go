package utils

import (
	"encoding/csv"
	"io"
	"os"
	"time"

	"copyTrader/internal/domain"
)

var tradeHeader = []string{"id", "timestamp", "asset", "side", "quantity", "price", "realized_pnl"}

// WriteTradesToCSV writes trade records to w. A null PnL is written as an
// empty cell.
func WriteTradesToCSV(trades []domain.TradeRecord, w io.Writer) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		pnl := ""
		if t.RealizedPnL.Valid {
			pnl = t.RealizedPnL.Decimal.String()
		}
		if err := writer.Write([]string{
			t.ID,
			t.Timestamp.UTC().Format(time.RFC3339Nano),
			t.Asset,
			string(t.Side),
			t.Quantity.String(),
			t.Price.String(),
			pnl,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTradesToFile writes trade records to a new CSV file.
func WriteTradesToFile(trades []domain.TradeRecord, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteTradesToCSV(trades, file); err != nil {
		return err
	}
	return file.Close()
}
