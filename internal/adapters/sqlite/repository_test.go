package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyTrader/internal/adapters/logger"
	"copyTrader/internal/domain"
	"copyTrader/internal/ledger"
	"copyTrader/internal/ports"
)

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, string, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "copy-trader-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: logger.NewNop(),
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}
	return repo, dbPath, cleanup
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func execution(id string, side domain.OrderSide, qty, price string, at time.Time) *domain.Execution {
	return &domain.Execution{
		ID:                id,
		ClientOrderID:     "client-" + id,
		ConfirmationID:    "conf-" + id,
		SourceSignature:   "sig-" + id,
		Asset:             "MINT",
		Side:              side,
		RequestedQuantity: d(qty),
		FilledQuantity:    d(qty),
		FilledPrice:       d(price),
		SlippageBps:       d("100"),
		ExecutedAt:        at,
	}
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_ExecutionsRoundTripInOrder(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	want := []*domain.Execution{
		execution("b", domain.Buy, "10", "100.123456789012", t0),
		execution("a", domain.Buy, "10", "120", t0.Add(time.Second)),
		execution("c", domain.Sell, "15", "130", t0.Add(2*time.Second)),
	}
	for _, e := range want {
		require.NoError(t, repo.RecordExecution(ctx, e))
	}

	got, err := repo.ListExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID, "recording order, not id order")
		assert.Equal(t, want[i].Side, got[i].Side)
		assert.Equal(t, want[i].SourceSignature, got[i].SourceSignature)
		assert.True(t, want[i].FilledPrice.Equal(got[i].FilledPrice), "decimals keep full precision")
		assert.True(t, want[i].FilledQuantity.Equal(got[i].FilledQuantity))
		assert.True(t, want[i].ExecutedAt.Equal(got[i].ExecutedAt))
	}
}

func TestRepository_DuplicateExecution(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	e := execution("dup", domain.Buy, "1", "1", time.Now())
	require.NoError(t, repo.RecordExecution(ctx, e))
	err := repo.RecordExecution(ctx, e)
	assert.ErrorIs(t, err, ports.ErrDuplicateEntry)
}

func TestRepository_TradesRoundTrip(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sell := &domain.TradeRecord{
		ID: "t1", Timestamp: now, Asset: "MINT", Side: domain.Sell,
		Quantity: d("15"), Price: d("130"), RealizedPnL: decimal.NewNullDecimal(d("300")),
	}
	buy := &domain.TradeRecord{
		ID: "t2", Timestamp: now, Asset: "MINT", Side: domain.Buy,
		Quantity: d("1"), Price: d("1"),
	}
	require.NoError(t, repo.RecordTrade(ctx, sell))
	require.NoError(t, repo.RecordTrade(ctx, buy))

	got, err := repo.ListTrades(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].RealizedPnL.Valid)
	assert.True(t, d("300").Equal(got[0].RealizedPnL.Decimal))
	assert.False(t, got[1].RealizedPnL.Valid, "null PnL survives the round trip")
}

func TestRepository_ReplayReproducesLedger(t *testing.T) {
	repo, dbPath, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	live := ledger.New()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	steps := []*domain.Execution{
		execution("1", domain.Buy, "10", "100", t0),
		execution("2", domain.Buy, "10", "120", t0.Add(time.Minute)),
		execution("3", domain.Sell, "15", "130", t0.Add(2*time.Minute)),
	}
	for _, e := range steps {
		require.NoError(t, repo.RecordExecution(ctx, e))
		if e.Side == domain.Buy {
			require.NoError(t, live.ApplyBuy(e.Asset, e.FilledQuantity, e.FilledPrice))
			continue
		}
		rec, err := live.ApplySell(e.Asset, e.FilledQuantity, e.FilledPrice)
		require.NoError(t, err)
		require.NoError(t, repo.RecordTrade(ctx, &rec))
	}
	require.NoError(t, repo.Close())

	// Reopen to prove durability.
	reopened, err := NewRepository(Config{DBPath: dbPath, Logger: logger.NewNop()})
	require.NoError(t, err)
	defer reopened.Close()

	execs, err := reopened.ListExecutions(ctx)
	require.NoError(t, err)
	replayed := ledger.New()
	require.NoError(t, replayed.Replay(execs))

	assert.True(t, live.TotalRealizedPnL().Equal(replayed.TotalRealizedPnL()))
	livePos, _ := live.Position("MINT")
	replayedPos, ok := replayed.Position("MINT")
	require.True(t, ok)
	assert.True(t, livePos.Quantity.Equal(replayedPos.Quantity))
	assert.True(t, livePos.TotalCostBasis.Equal(replayedPos.TotalCostBasis))

	trades, err := reopened.ListTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].PnL().Equal(replayed.TotalRealizedPnL()))
}

func TestRepository_CanceledContext(t *testing.T) {
	repo, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repo.ListExecutions(ctx)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
}
