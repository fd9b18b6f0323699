package ports

import (
	"context"

	"copyTrader/internal/domain"
)

// Journal persists confirmed executions and realized trades.
type Journal interface {
	// RecordExecution saves a confirmed fill. Executions are returned by
	// ListExecutions in the order they were recorded.
	RecordExecution(ctx context.Context, exec *domain.Execution) error
	// RecordTrade saves a realized trade record produced by the ledger.
	RecordTrade(ctx context.Context, trade *domain.TradeRecord) error
	// ListExecutions retrieves every recorded execution in recording order.
	ListExecutions(ctx context.Context) ([]*domain.Execution, error)
	// ListTrades retrieves every recorded trade in recording order.
	ListTrades(ctx context.Context) ([]*domain.TradeRecord, error)
	// Close releases the underlying storage.
	Close() error
}

// Deduplicator remembers keys (transaction signatures) that were already seen.
type Deduplicator interface {
	// FirstSeen records key and reports whether this is its first sighting.
	FirstSeen(ctx context.Context, key string) (bool, error)
}
