package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"liquidity_engine/internal/core"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "engine.db")
	s, err := Open(context.Background(), DriverSQLite, dbPath, &mockLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePosition() core.Position {
	pos := core.NewPosition(core.AssetSet{A: "WETH", B: "USDC", C: "DAI", PoolShare: "WETH-USDC-LP"})
	pos.BalanceA = sdkmath.NewInt(1_000)
	pos.BalanceB, _ = sdkmath.NewIntFromString("123456789012345678901234567890")
	pos.PoolShareUnits = sdkmath.NewInt(42)
	pos.LastReferencePrice = 350_012_345_678
	pos.LastRebalanceTimestamp = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return pos
}

func TestSQLStore_PositionRoundTrip(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	loaded, err := s.LoadPosition(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	pos := samplePosition()
	require.NoError(t, s.SavePosition(ctx, pos))

	pos.BalanceA = sdkmath.NewInt(999)
	require.NoError(t, s.SavePosition(ctx, pos))

	loaded, err = s.LoadPosition(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, pos.Assets, loaded.Assets)
	assert.True(t, pos.BalanceA.Equal(loaded.BalanceA))
	assert.True(t, pos.BalanceB.Equal(loaded.BalanceB))
	assert.True(t, pos.BalanceC.Equal(loaded.BalanceC))
	assert.True(t, pos.PoolShareUnits.Equal(loaded.PoolShareUnits))
	assert.Equal(t, pos.LastReferencePrice, loaded.LastReferencePrice)
	assert.True(t, pos.LastRebalanceTimestamp.Equal(loaded.LastRebalanceTimestamp))
}

func TestSQLStore_DetectsCorruption(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SavePosition(ctx, samplePosition()))

	_, err := s.db.ExecContext(ctx, `UPDATE position_state SET data = replace(data, '1000', '9000') WHERE id = 1`)
	require.NoError(t, err)

	_, err = s.LoadPosition(ctx)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestSQLStore_Journal(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		units := sdkmath.NewInt(int64(i))
		tick := "tick-a"
		if i >= 3 {
			tick = "tick-b"
		}
		require.NoError(t, s.Consume(ctx, core.Event{
			ID:        "evt-" + string(rune('0'+i)),
			Type:      core.EventLiquidityAdded,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			TickID:    tick,
			Units:     &units,
		}))
	}
	// Duplicate delivery is ignored
	require.NoError(t, s.AppendEvent(ctx, core.Event{ID: "evt-0", Type: core.EventRebalanced, Timestamp: base}))

	all, err := s.Events(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "evt-0", all[0].ID)
	assert.Equal(t, core.EventLiquidityAdded, all[0].Type)

	latest, err := s.Events(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "evt-3", latest[0].ID)
	assert.Equal(t, "evt-4", latest[1].ID)
	assert.Equal(t, int64(4), latest[1].Units.Int64())

	byTick, err := s.EventsByTick(ctx, "tick-b")
	require.NoError(t, err)
	assert.Len(t, byTick, 2)
	assert.Equal(t, "journal", s.Name())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", &mockLogger{})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "INSERT INTO t VALUES ($1, $2, $3)", pg.rebind("INSERT INTO t VALUES (?, ?, ?)"))
	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestSQLStore_Postgres(t *testing.T) {
	dsn := os.Getenv("LIQUIDITY_ENGINE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LIQUIDITY_ENGINE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, DriverPostgres, dsn, &mockLogger{})
	require.NoError(t, err)
	defer s.Close()

	pos := samplePosition()
	require.NoError(t, s.SavePosition(ctx, pos))
	loaded, err := s.LoadPosition(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, pos.BalanceB.Equal(loaded.BalanceB))
}
