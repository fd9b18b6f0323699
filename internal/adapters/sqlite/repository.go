package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"copyTrader/internal/domain"
	"copyTrader/internal/ports"
)

// Repository implements the ports.Journal interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/copy_trader.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection keeps journal writes strictly ordered.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite journal opened", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist. Decimals are stored as
// TEXT so no precision is lost.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS executions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		client_order_id TEXT NOT NULL,
		confirmation_id TEXT NOT NULL,
		source_signature TEXT NOT NULL,
		asset TEXT NOT NULL,
		side TEXT NOT NULL,
		requested_quantity TEXT NOT NULL,
		filled_quantity TEXT NOT NULL,
		filled_price TEXT NOT NULL,
		slippage_bps TEXT NOT NULL,
		executed_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		asset TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		realized_pnl TEXT NULL,
		recorded_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_executions_asset ON executions (asset);
	CREATE INDEX IF NOT EXISTS idx_trade_records_asset ON trade_records (asset);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite journal")
		return r.db.Close()
	}
	return nil
}

// RecordExecution appends a confirmed fill.
func (r *Repository) RecordExecution(ctx context.Context, exec *domain.Execution) error {
	const query = `
	INSERT INTO executions (id, client_order_id, confirmation_id, source_signature, asset, side,
	                        requested_quantity, filled_quantity, filled_price, slippage_bps, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		exec.ID, exec.ClientOrderID, exec.ConfirmationID, exec.SourceSignature, exec.Asset, string(exec.Side),
		exec.RequestedQuantity.String(), exec.FilledQuantity.String(), exec.FilledPrice.String(),
		exec.SlippageBps.String(), exec.ExecutedAt.UTC())
	if err != nil {
		return handleError(err, fmt.Sprintf("insert execution %s for asset %s", exec.ID, exec.Asset))
	}
	r.logger.Debug(ctx, "Execution journaled", map[string]interface{}{"executionID": exec.ID, "asset": exec.Asset, "side": exec.Side})
	return nil
}

// RecordTrade appends a realized trade record.
func (r *Repository) RecordTrade(ctx context.Context, trade *domain.TradeRecord) error {
	const query = `
	INSERT INTO trade_records (id, asset, side, quantity, price, realized_pnl, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	var pnl sql.NullString
	if trade.RealizedPnL.Valid {
		pnl = sql.NullString{String: trade.RealizedPnL.Decimal.String(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		trade.ID, trade.Asset, string(trade.Side), trade.Quantity.String(), trade.Price.String(), pnl, trade.Timestamp.UTC())
	if err != nil {
		return handleError(err, fmt.Sprintf("insert trade record %s for asset %s", trade.ID, trade.Asset))
	}
	r.logger.Debug(ctx, "Trade record journaled", map[string]interface{}{"tradeID": trade.ID, "asset": trade.Asset, "pnl": pnl.String})
	return nil
}

// ListExecutions returns every execution in recording order.
func (r *Repository) ListExecutions(ctx context.Context) ([]*domain.Execution, error) {
	const query = `
	SELECT id, client_order_id, confirmation_id, source_signature, asset, side,
	       requested_quantity, filled_quantity, filled_price, slippage_bps, executed_at
	FROM executions
	ORDER BY seq ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, handleError(err, "query executions")
	}
	defer rows.Close()

	execs := make([]*domain.Execution, 0)
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, handleError(err, "scan execution")
		}
		execs = append(execs, exec)
	}
	if err = rows.Err(); err != nil {
		return nil, handleError(err, "iterate execution rows")
	}
	return execs, nil
}

// ListTrades returns every trade record in recording order.
func (r *Repository) ListTrades(ctx context.Context) ([]*domain.TradeRecord, error) {
	const query = `
	SELECT id, asset, side, quantity, price, realized_pnl, recorded_at
	FROM trade_records
	ORDER BY seq ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, handleError(err, "query trade records")
	}
	defer rows.Close()

	trades := make([]*domain.TradeRecord, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, handleError(err, "scan trade record")
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, handleError(err, "iterate trade record rows")
	}
	return trades, nil
}

// handleError translates driver errors into ports errors.
func handleError(err error, op string) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w: %v", op, ports.ErrDuplicateEntry, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, ports.ErrContextCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ports.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ports.ErrQueryFailed, err)
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(s scanner) (*domain.Execution, error) {
	e := &domain.Execution{}
	var side, requested, filled, price, slippage string
	err := s.Scan(
		&e.ID, &e.ClientOrderID, &e.ConfirmationID, &e.SourceSignature, &e.Asset, &side,
		&requested, &filled, &price, &slippage, &e.ExecutedAt)
	if err != nil {
		return nil, err
	}
	var ok bool
	if e.Side, ok = domain.ParseSide(side); !ok {
		return nil, fmt.Errorf("side: unknown value %q", side)
	}
	if e.RequestedQuantity, err = decimal.NewFromString(requested); err != nil {
		return nil, fmt.Errorf("requested_quantity: %w", err)
	}
	if e.FilledQuantity, err = decimal.NewFromString(filled); err != nil {
		return nil, fmt.Errorf("filled_quantity: %w", err)
	}
	if e.FilledPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("filled_price: %w", err)
	}
	if e.SlippageBps, err = decimal.NewFromString(slippage); err != nil {
		return nil, fmt.Errorf("slippage_bps: %w", err)
	}
	return e, nil
}

func scanTrade(s scanner) (*domain.TradeRecord, error) {
	t := &domain.TradeRecord{}
	var side, quantity, price string
	var pnl sql.NullString
	err := s.Scan(&t.ID, &t.Asset, &side, &quantity, &price, &pnl, &t.Timestamp)
	if err != nil {
		return nil, err
	}
	var ok bool
	if t.Side, ok = domain.ParseSide(side); !ok {
		return nil, fmt.Errorf("side: unknown value %q", side)
	}
	if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	if t.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	if pnl.Valid {
		d, err := decimal.NewFromString(pnl.String)
		if err != nil {
			return nil, fmt.Errorf("realized_pnl: %w", err)
		}
		t.RealizedPnL = decimal.NewNullDecimal(d)
	}
	return t, nil
}
