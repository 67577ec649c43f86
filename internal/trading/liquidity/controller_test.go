package liquidity

import (
	"context"
	"errors"
	"testing"
	"time"

	"liquidity_engine/internal/core"
	"liquidity_engine/internal/mock"
	"liquidity_engine/internal/trading/position"
	"liquidity_engine/internal/trading/router"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}
func (l noopLogger) WithField(string, interface{}) core.ILogger {
	return l
}
func (l noopLogger) WithFields(map[string]interface{}) core.ILogger {
	return l
}

var assets = core.AssetSet{A: "WETH", B: "USDC", PoolShare: "LP"}

type fixture struct {
	ctrl     *Controller
	state    *position.State
	ledger   *mock.Ledger
	pool     *mock.Pool
	recorder *mock.Recorder
	policy   core.PolicyConfig
}

func newFixture(t *testing.T, cfg Config, opts ...Option) fixture {
	t.Helper()
	ledger := mock.NewLedger("engine")
	pool := mock.NewPool("pool", ledger, assets, sdkmath.NewInt(100_000), sdkmath.NewInt(200_000))
	recorder := mock.NewRecorder()

	ledger.Mint("engine", "WETH", sdkmath.NewInt(10_000))
	ledger.Mint("engine", "USDC", sdkmath.NewInt(30_000))
	st := position.NewState(assets)
	require.NoError(t, st.Credit("WETH", sdkmath.NewInt(10_000)))
	require.NoError(t, st.Credit("USDC", sdkmath.NewInt(30_000)))

	ctrl, err := NewController(pool, ledger, recorder, nil, cfg, noopLogger{}, opts...)
	require.NoError(t, err)
	return fixture{
		ctrl:     ctrl,
		state:    st,
		ledger:   ledger,
		pool:     pool,
		recorder: recorder,
		policy:   core.PolicyConfig{MaxOrderSize: sdkmath.NewInt(50_000)},
	}
}

func (f fixture) provide(t *testing.T) core.LiquidityReceipt {
	t.Helper()
	r, err := f.ctrl.ProvideLiquidity(context.Background(), f.state, f.policy, sdkmath.NewInt(10_000), sdkmath.NewInt(30_000))
	require.NoError(t, err)
	return r
}

func TestProvideLiquidity_IncreasesUnitsAndRecordsActualAmounts(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	before := f.state.Snapshot()

	receipt := f.provide(t)

	after := f.state.Snapshot()
	assert.True(t, after.PoolShareUnits.GT(before.PoolShareUnits))
	assert.Equal(t, int64(14_142), after.PoolShareUnits.Int64())
	// The pool ratio only accepts 20000 of the offered 30000 USDC
	assert.Equal(t, int64(10_000), receipt.AmountA.Int64())
	assert.Equal(t, int64(20_000), receipt.AmountB.Int64())
	assert.Equal(t, int64(0), after.BalanceA.Int64())
	assert.Equal(t, int64(10_000), after.BalanceB.Int64())
	assert.Equal(t, after.PoolShareUnits, f.ledger.BalanceOfAccount("engine", "LP"))

	events := f.recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, core.EventLiquidityAdded, events[0].Type)
	assert.Equal(t, int64(10_000), events[0].AmountA.Int64())
	assert.Equal(t, int64(20_000), events[0].AmountB.Int64())
	assert.Equal(t, int64(14_142), events[0].Units.Int64())
}

func TestProvideThenRemoveRoundTrip(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	start := f.state.Snapshot()
	receipt := f.provide(t)

	_, err := f.ctrl.RemoveLiquidity(context.Background(), f.state, receipt.Units)
	require.NoError(t, err)

	end := f.state.Snapshot()
	assert.True(t, end.PoolShareUnits.IsZero())
	// Integer rounding in the pool's favour costs at most one unit per leg
	assert.True(t, start.BalanceA.Sub(end.BalanceA).LTE(sdkmath.OneInt()))
	assert.True(t, start.BalanceB.Sub(end.BalanceB).LTE(sdkmath.OneInt()))
	assert.Equal(t, end.BalanceA, f.ledger.BalanceOfAccount("engine", "WETH"))
	assert.Equal(t, end.BalanceB, f.ledger.BalanceOfAccount("engine", "USDC"))

	removed := f.recorder.OfType(core.EventLiquidityRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, receipt.Units, *removed[0].Units)
	assert.Equal(t, int64(9_999), removed[0].AmountA.Int64())
	assert.Equal(t, int64(19_999), removed[0].AmountB.Int64())
}

func TestRemoveThenProvideRestoresUnits(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.provide(t)
	start := f.state.Snapshot().PoolShareUnits

	removed, err := f.ctrl.RemoveLiquidity(context.Background(), f.state, start.QuoRaw(2))
	require.NoError(t, err)
	_, err = f.ctrl.ProvideLiquidity(context.Background(), f.state, f.policy, removed.AmountA, removed.AmountB)
	require.NoError(t, err)

	end := f.state.Snapshot().PoolShareUnits
	assert.True(t, end.LTE(start))
	// Floor division on withdraw and on re-mint each lose at most one unit
	assert.True(t, start.Sub(end).LTE(sdkmath.NewInt(2)), "start %s end %s", start, end)
	assert.Equal(t, end, f.ledger.BalanceOfAccount("engine", "LP"))
}

func TestProvideLiquidity_Validation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	before := f.state.Snapshot()

	tests := []struct {
		name string
		a, b int64
		want error
	}{
		{"zero a", 0, 10, apperrors.ErrInvalidInput},
		{"zero b", 10, 0, apperrors.ErrInvalidInput},
		{"over max order", 60_000, 10, apperrors.ErrInvalidInput},
		{"over balance", 10_001, 10, apperrors.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ctrl.ProvideLiquidity(context.Background(), f.state, f.policy, sdkmath.NewInt(tt.a), sdkmath.NewInt(tt.b))
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, before, f.state.Snapshot())
	assert.Empty(t, f.recorder.Events())
	assert.True(t, f.ledger.Allowance("engine", "pool", "WETH").IsZero())
}

func TestProvideLiquidity_PoolFailureLeavesPositionUntouched(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.pool.FailAdd = errors.New("reverted")
	before := f.state.Snapshot()

	_, err := f.ctrl.ProvideLiquidity(context.Background(), f.state, f.policy, sdkmath.NewInt(1_000), sdkmath.NewInt(2_000))
	assert.ErrorIs(t, err, apperrors.ErrLiquidityFailed)
	assert.Equal(t, before, f.state.Snapshot())
	assert.Empty(t, f.recorder.Events())
	assert.True(t, f.ledger.Allowance("engine", "pool", "WETH").IsZero())
	assert.True(t, f.ledger.Allowance("engine", "pool", "USDC").IsZero())
}

func TestProvideLiquidity_CancelledBeforeApprove(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ctrl.ProvideLiquidity(ctx, f.state, f.policy, sdkmath.NewInt(1_000), sdkmath.NewInt(2_000))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, f.state.Snapshot().PoolShareUnits.IsZero())
}

func TestRemoveLiquidity_Validation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	receipt := f.provide(t)

	_, err := f.ctrl.RemoveLiquidity(context.Background(), f.state, sdkmath.ZeroInt())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = f.ctrl.RemoveLiquidity(context.Background(), f.state, receipt.Units.AddRaw(1))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	f.pool.FailRemove = errors.New("paused")
	_, err = f.ctrl.RemoveLiquidity(context.Background(), f.state, receipt.Units)
	assert.ErrorIs(t, err, apperrors.ErrLiquidityFailed)
	assert.Equal(t, receipt.Units, f.state.Snapshot().PoolShareUnits)
}

func TestStopLoss_FullExit(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	receipt := f.provide(t)

	w, err := f.ctrl.StopLoss(context.Background(), f.state, core.Price(80_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, receipt.Units, w.Units)
	assert.True(t, f.state.Snapshot().PoolShareUnits.IsZero())

	triggered := f.recorder.OfType(core.EventStopLossTriggered)
	require.Len(t, triggered, 1)
	assert.Equal(t, receipt.Units, *triggered[0].Units)
	assert.Equal(t, core.Price(80_000_000_000), triggered[0].Price)
	assert.Len(t, f.recorder.OfType(core.EventLiquidityRemoved), 1)
}

func TestStopLoss_ZeroWithdrawalIsExplicit(t *testing.T) {
	f := newFixture(t, DefaultConfig(), WithStopLossSizer(ZeroSizer{}))
	receipt := f.provide(t)

	w, err := f.ctrl.StopLoss(context.Background(), f.state, core.Price(1))
	require.NoError(t, err)
	assert.True(t, w.Units.IsZero())
	assert.Equal(t, receipt.Units, f.state.Snapshot().PoolShareUnits)
	assert.Empty(t, f.recorder.OfType(core.EventLiquidityRemoved))

	triggered := f.recorder.OfType(core.EventStopLossTriggered)
	require.Len(t, triggered, 1)
	assert.True(t, triggered[0].Units.IsZero())
}

func TestStopLoss_NothingInPool(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	w, err := f.ctrl.StopLoss(context.Background(), f.state, core.Price(1))
	require.NoError(t, err)
	assert.True(t, w.Units.IsZero())
}

func TestMitigate_WithdrawsFraction(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.provide(t)

	signal := core.VolatilitySignal{ImpermanentLossBps: 600, ThresholdBps: 500}
	w, err := f.ctrl.Mitigate(context.Background(), f.state, signal, core.Price(5))
	require.NoError(t, err)
	assert.Equal(t, int64(7_071), w.Units.Int64())
	assert.Equal(t, int64(7_071), f.state.Snapshot().PoolShareUnits.Int64())

	events := f.recorder.OfType(core.EventImpermanentLossMitigation)
	require.Len(t, events, 1)
	assert.Equal(t, int64(7_071), events[0].Units.Int64())
}

func TestRebalance_NoopMovesReference(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	res, err := f.ctrl.Rebalance(context.Background(), f.state, f.policy, core.Price(102_100_000_000), now)
	require.NoError(t, err)
	assert.Nil(t, res.Provided)

	pos := f.state.Snapshot()
	assert.Equal(t, core.Price(102_100_000_000), pos.LastReferencePrice)
	assert.Equal(t, now, pos.LastRebalanceTimestamp)

	events := f.recorder.OfType(core.EventRebalanced)
	require.Len(t, events, 1)
	assert.Equal(t, core.Price(102_100_000_000), events[0].Price)
}

func TestRebalance_RedeployCapsAtMaxOrder(t *testing.T) {
	f := newFixture(t, Config{Strategy: "redeploy"})
	f.policy.MaxOrderSize = sdkmath.NewInt(5_000)

	res, err := f.ctrl.Rebalance(context.Background(), f.state, f.policy, core.Price(100), time.Now())
	require.NoError(t, err)
	require.NotNil(t, res.Provided)
	assert.True(t, res.Provided.AmountA.LTE(sdkmath.NewInt(5_000)))
	assert.True(t, res.Provided.AmountB.LTE(sdkmath.NewInt(5_000)))
	assert.True(t, f.state.Snapshot().PoolShareUnits.IsPositive())
	assert.Len(t, f.recorder.OfType(core.EventLiquidityAdded), 1)
}

func TestRebalance_FailureKeepsReference(t *testing.T) {
	f := newFixture(t, Config{Strategy: "redeploy"})
	f.state.SetReference(core.Price(100), time.Unix(0, 0))
	f.pool.FailAdd = errors.New("reverted")

	_, err := f.ctrl.Rebalance(context.Background(), f.state, f.policy, core.Price(150), time.Now())
	assert.ErrorIs(t, err, apperrors.ErrLiquidityFailed)
	assert.Equal(t, core.Price(100), f.state.Snapshot().LastReferencePrice)
	assert.Empty(t, f.recorder.OfType(core.EventRebalanced))
}

func TestRebalance_RejectsNonPositivePrice(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.ctrl.Rebalance(context.Background(), f.state, f.policy, core.Price(0), time.Now())
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

type swapStrategy struct {
	intent core.TradeIntent
}

func (swapStrategy) Name() string { return "swap" }

func (s swapStrategy) Adjust(core.Position, core.PolicyConfig, core.Price) (Adjustment, error) {
	in := s.intent
	return Adjustment{Swap: &in}, nil
}

type fakeSwapper struct {
	calls  int
	status router.Status
	err    error
}

func (f *fakeSwapper) Route(_ context.Context, _ *position.State, _ core.PolicyConfig, intent core.TradeIntent) (router.ExecutionResult, error) {
	f.calls++
	return router.ExecutionResult{Status: f.status, AmountIn: intent.AmountIn}, f.err
}

func TestRebalance_SwapLeg(t *testing.T) {
	intent := core.TradeIntent{AmountIn: sdkmath.NewInt(10), Route: []core.AssetID{"WETH", "USDC"}}
	ledger := mock.NewLedger("engine")
	pool := mock.NewPool("pool", ledger, assets, sdkmath.NewInt(1_000), sdkmath.NewInt(1_000))
	swapper := &fakeSwapper{status: router.StatusNoProfitableRoute}

	ctrl, err := NewController(pool, ledger, mock.NewRecorder(), swapper, DefaultConfig(), noopLogger{}, WithStrategy(swapStrategy{intent: intent}))
	require.NoError(t, err)
	st := position.NewState(assets)

	res, err := ctrl.Rebalance(context.Background(), st, core.PolicyConfig{}, core.Price(7), time.Now())
	require.NoError(t, err)
	require.NotNil(t, res.Swap)
	assert.Equal(t, router.StatusNoProfitableRoute, res.Swap.Status)
	assert.Equal(t, 1, swapper.calls)
	assert.Equal(t, core.Price(7), st.Snapshot().LastReferencePrice)

	swapper.err = apperrors.ErrExecutionFailed
	_, err = ctrl.Rebalance(context.Background(), st, core.PolicyConfig{}, core.Price(9), time.Now())
	assert.ErrorIs(t, err, apperrors.ErrExecutionFailed)
	assert.Equal(t, core.Price(7), st.Snapshot().LastReferencePrice)
}

func TestNewController_UnknownStrategy(t *testing.T) {
	_, err := NewController(nil, nil, nil, nil, Config{Strategy: "yolo"}, noopLogger{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestFractionSizer(t *testing.T) {
	pos := core.NewPosition(assets)
	assert.True(t, FractionSizer{Bps: 5000}.Size(pos).IsZero())

	pos.PoolShareUnits = sdkmath.NewInt(999)
	assert.Equal(t, int64(499), FractionSizer{Bps: 5000}.Size(pos).Int64())
	assert.Equal(t, int64(999), FractionSizer{Bps: 20000}.Size(pos).Int64())
	assert.True(t, FractionSizer{}.Size(pos).IsZero())
}
