package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var assets = core.AssetSet{A: "WETH", B: "USDC", PoolShare: "LP"}

func ints(vals map[core.AssetID]int64) map[core.AssetID]sdkmath.Int {
	out := make(map[core.AssetID]sdkmath.Int, len(vals))
	for k, v := range vals {
		out[k] = sdkmath.NewInt(v)
	}
	return out
}

func TestLedger_AllowanceFlow(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("engine")
	l.Mint("engine", "USDC", sdkmath.NewInt(100))

	// Pull without allowance is rejected
	err := l.Pull("USDC", "engine", "venue", "venue", sdkmath.NewInt(10))
	assert.ErrorIs(t, err, apperrors.ErrLedgerRejected)

	require.NoError(t, l.Approve(ctx, "USDC", "venue", sdkmath.NewInt(30)))
	require.NoError(t, l.Pull("USDC", "engine", "venue", "venue", sdkmath.NewInt(10)))
	assert.Equal(t, int64(20), l.Allowance("engine", "venue", "USDC").Int64())

	bal, err := l.BalanceOf(ctx, "USDC")
	require.NoError(t, err)
	assert.Equal(t, int64(90), bal.Int64())
	assert.Equal(t, int64(10), l.BalanceOfAccount("venue", "USDC").Int64())

	require.NoError(t, l.Transfer(ctx, "USDC", "alice", sdkmath.NewInt(90)))
	assert.ErrorIs(t, l.Transfer(ctx, "USDC", "alice", sdkmath.NewInt(1)), apperrors.ErrLedgerRejected)
}

func TestLedger_TransferFrom(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("engine")
	l.Mint("alice", "WETH", sdkmath.NewInt(5))
	err := l.TransferFrom(ctx, "WETH", "alice", "engine", sdkmath.NewInt(5))
	assert.ErrorIs(t, err, apperrors.ErrLedgerRejected)
}

func TestVenue_QuoteMatchesExecute(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("engine")
	l.Mint("engine", "WETH", sdkmath.NewInt(1_000))
	v := NewVenue("amm", l, 30, ints(map[core.AssetID]int64{"WETH": 100_000, "USDC": 200_000_000}))

	path := []core.AssetID{"WETH", "USDC"}
	quote, err := v.Quote(ctx, path, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	// 997 after fee; 200e6*997/(100000+997)
	assert.Equal(t, int64(1_974_316), quote.Int64())

	require.NoError(t, l.Approve(ctx, "WETH", "amm", sdkmath.NewInt(1_000)))
	out, err := v.Execute(ctx, path, sdkmath.NewInt(1_000), quote, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, quote, out)
	assert.Equal(t, quote.Int64(), l.BalanceOfAccount("engine", "USDC").Int64())
	assert.True(t, l.BalanceOfAccount("engine", "WETH").IsZero())

	// Price moved against the next trade
	next, err := v.Quote(ctx, path, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	assert.True(t, next.LT(quote))
}

func TestVenue_DeadlineAndSlippageAreDistinct(t *testing.T) {
	ctx := context.Background()
	v := NewVenue("amm", nil, 0, ints(map[core.AssetID]int64{"A": 1000, "B": 1000}))
	path := []core.AssetID{"A", "B"}

	_, err := v.Execute(ctx, path, sdkmath.NewInt(10), sdkmath.NewInt(1), time.Now().Add(-time.Second))
	assert.ErrorIs(t, err, apperrors.ErrDeadlineExpired)
	assert.False(t, errors.Is(err, apperrors.ErrSlippageExceeded))

	_, err = v.Execute(ctx, path, sdkmath.NewInt(10), sdkmath.NewInt(1_000), time.Now().Add(time.Second))
	assert.ErrorIs(t, err, apperrors.ErrSlippageExceeded)
	assert.False(t, errors.Is(err, apperrors.ErrDeadlineExpired))
}

func TestVenue_MultiHopAndUnknownMarket(t *testing.T) {
	ctx := context.Background()
	v := NewVenue("amm", nil, 0, ints(map[core.AssetID]int64{"A": 1_000_000, "B": 1_000_000, "C": 1_000_000}))

	out, err := v.Quote(ctx, []core.AssetID{"A", "B", "C"}, sdkmath.NewInt(1_000))
	require.NoError(t, err)
	assert.True(t, out.IsPositive())
	assert.True(t, out.LT(sdkmath.NewInt(1_000)))

	_, err = v.Quote(ctx, []core.AssetID{"A", "Z"}, sdkmath.NewInt(1))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestVenue_QuoteDelayHonorsContext(t *testing.T) {
	v := NewFixedVenue("slow", 10)
	v.QuoteDelay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := v.Quote(ctx, []core.AssetID{"A", "B"}, sdkmath.NewInt(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_AddRemoveRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("engine")
	l.Mint("engine", "WETH", sdkmath.NewInt(10_000))
	l.Mint("engine", "USDC", sdkmath.NewInt(30_000))
	p := NewPool("pool", l, assets, sdkmath.NewInt(100_000), sdkmath.NewInt(200_000))
	deadline := time.Now().Add(time.Minute)

	require.NoError(t, l.Approve(ctx, "WETH", "pool", sdkmath.NewInt(10_000)))
	require.NoError(t, l.Approve(ctx, "USDC", "pool", sdkmath.NewInt(30_000)))
	receipt, err := p.AddLiquidity(ctx, sdkmath.NewInt(10_000), sdkmath.NewInt(30_000), deadline)
	require.NoError(t, err)

	// Pool ratio is 1:2, so only 20k USDC is taken
	assert.Equal(t, int64(10_000), receipt.AmountA.Int64())
	assert.Equal(t, int64(20_000), receipt.AmountB.Int64())
	assert.True(t, receipt.Units.IsPositive())
	assert.Equal(t, receipt.Units, l.BalanceOfAccount("engine", "LP"))

	require.NoError(t, l.Approve(ctx, "LP", "pool", receipt.Units))
	removed, err := p.RemoveLiquidity(ctx, receipt.Units, deadline)
	require.NoError(t, err)
	assert.True(t, removed.AmountA.LTE(receipt.AmountA))
	assert.True(t, removed.AmountB.LTE(receipt.AmountB))
	assert.True(t, receipt.AmountA.Sub(removed.AmountA).LTE(sdkmath.OneInt()))
	assert.True(t, l.BalanceOfAccount("engine", "LP").IsZero())
}

func TestPool_RejectsWithoutAllowanceAndExpired(t *testing.T) {
	ctx := context.Background()
	l := NewLedger("engine")
	l.Mint("engine", "WETH", sdkmath.NewInt(100))
	l.Mint("engine", "USDC", sdkmath.NewInt(100))
	p := NewPool("pool", l, assets, sdkmath.NewInt(1_000), sdkmath.NewInt(1_000))

	_, err := p.AddLiquidity(ctx, sdkmath.NewInt(100), sdkmath.NewInt(100), time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, apperrors.ErrLedgerRejected)

	// Only A approved: the A leg is returned when B fails
	require.NoError(t, l.Approve(ctx, "WETH", "pool", sdkmath.NewInt(100)))
	_, err = p.AddLiquidity(ctx, sdkmath.NewInt(100), sdkmath.NewInt(100), time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, apperrors.ErrLedgerRejected)
	assert.Equal(t, int64(100), l.BalanceOfAccount("engine", "WETH").Int64())

	_, err = p.AddLiquidity(ctx, sdkmath.NewInt(1), sdkmath.NewInt(1), time.Now().Add(-time.Second))
	assert.ErrorIs(t, err, apperrors.ErrDeadlineExpired)
}

func TestOracle(t *testing.T) {
	o := NewOracle(100)
	obs, err := o.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.Price(100), obs.Price)
	assert.Equal(t, core.PriceDecimals, obs.Decimals)

	o.SetError(apperrors.ErrNetwork)
	_, err = o.CurrentPrice(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNetwork)
	assert.Equal(t, 2, o.Calls())
}
