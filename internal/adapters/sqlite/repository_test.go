package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradesim/internal/domain"
	"tradesim/internal/ports"
)

type mockLogger struct{}

func (mockLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (mockLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (mockLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (mockLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestNewRepositoryRequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	require.Error(t, err)
}

func TestTradeRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := &domain.Trade{
		ID: 1, OrderID: 10, Instrument: "ETHUSDT", Direction: domain.Long,
		Size: dec("10"), Price: dec("100.5"), LastPrice: dec("100"),
		Fee: dec("0.1"), Maker: false, Time: base,
	}
	second := &domain.Trade{
		ID: 2, OrderID: 11, Instrument: "ETHUSDT", Direction: domain.Short,
		Size: dec("4"), Price: dec("110"), LastPrice: dec("109.9"),
		Fee: dec("0.05"), Maker: true, Time: base.Add(time.Hour),
	}
	require.NoError(t, repo.SaveTrade(ctx, first))
	require.NoError(t, repo.SaveTrade(ctx, second))
	require.NoError(t, repo.SaveTrade(ctx, &domain.Trade{
		ID: 3, OrderID: 12, Instrument: "BTCUSDT", Direction: domain.Long,
		Size: dec("1"), Price: dec("40000"), LastPrice: dec("40000"),
		Fee: dec("0"), Time: base,
	}))

	trades, err := repo.TradesByInstrument(ctx, "ETHUSDT", 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Newest first.
	got := trades[0]
	require.Equal(t, int64(2), got.ID)
	require.Equal(t, domain.Short, got.Direction)
	assert.True(t, got.Size.Equal(second.Size))
	assert.True(t, got.Price.Equal(second.Price))
	assert.True(t, got.Fee.Equal(second.Fee))
	assert.True(t, got.Maker)
	assert.True(t, got.Time.Equal(second.Time))

	limited, err := repo.TradesByInstrument(ctx, "ETHUSDT", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, int64(2), limited[0].ID)
}

func TestSaveTradeRejectsDuplicateID(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	trade := &domain.Trade{
		ID: 7, OrderID: 20, Instrument: "BTCUSDT", Direction: domain.Long,
		Size: dec("1"), Price: dec("40000"), LastPrice: dec("40000"),
		Fee: dec("4"), Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.SaveTrade(ctx, trade))

	err := repo.SaveTrade(ctx, trade)
	require.ErrorIs(t, err, ports.ErrDuplicateEntry)
}

func TestClosedPositionsRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveClosedPosition(ctx, &domain.Position{
		Instrument: "ETHUSDT", AvgPrice: dec("100"), ExitPrice: dec("110"),
		Realised: dec("40"), EntryTime: base, ExitTime: base.Add(time.Hour),
	}))
	require.NoError(t, repo.SaveClosedPosition(ctx, &domain.Position{
		Instrument: "ETHUSDT", AvgPrice: dec("110"), ExitPrice: dec("108"),
		Realised: dec("-10"), EntryTime: base.Add(time.Hour), ExitTime: base.Add(2 * time.Hour),
	}))

	positions, err := repo.ClosedPositions(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	// Oldest first.
	assert.True(t, positions[0].Realised.Equal(dec("40")))
	assert.True(t, positions[0].AvgPrice.Equal(dec("100")))
	assert.True(t, positions[0].ExitPrice.Equal(dec("110")))
	assert.True(t, positions[1].Realised.Equal(dec("-10")))

	none, err := repo.ClosedPositions(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Empty(t, none)

	total, err := repo.TotalRealised(ctx)
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("30")), "total %s", total)
}

func TestSnapshotStoreRoundTrip(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	session := uuid.New()

	missing, err := repo.LoadSnapshot(ctx, session)
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, repo.SaveSnapshot(ctx, session, []byte(`{"version":1}`)))
	got, err := repo.LoadSnapshot(ctx, session)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"version":1}`), got)

	// Saving again replaces the stored blob for the session.
	require.NoError(t, repo.SaveSnapshot(ctx, session, []byte(`{"version":1,"equity":"42"}`)))
	got, err = repo.LoadSnapshot(ctx, session)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"version":1,"equity":"42"}`), got)
}

func TestSnapshotChecksumDetectsTampering(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	session := uuid.New()

	require.NoError(t, repo.SaveSnapshot(ctx, session, []byte(`{"version":1}`)))
	_, err := repo.db.ExecContext(ctx,
		`UPDATE snapshots SET data = ? WHERE session_id = ?`, `{"version":1,"equity":"1"}`, session.String())
	require.NoError(t, err)

	_, err = repo.LoadSnapshot(ctx, session)
	require.ErrorIs(t, err, ports.ErrSnapshotCorrupted)
}
