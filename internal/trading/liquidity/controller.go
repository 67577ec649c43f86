// Package liquidity implements the rebalance controller: pool deposits and
// withdrawals, reference-price rebalances, stop-loss and impermanent-loss mitigation.
package liquidity

import (
	"context"
	"fmt"
	"time"

	"liquidity_engine/internal/core"
	"liquidity_engine/internal/trading/position"
	"liquidity_engine/internal/trading/router"
	apperrors "liquidity_engine/pkg/errors"
	"liquidity_engine/pkg/telemetry"

	sdkmath "cosmossdk.io/math"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Swapper executes the swap leg of a rebalance
type Swapper interface {
	Route(ctx context.Context, st *position.State, policy core.PolicyConfig, intent core.TradeIntent) (router.ExecutionResult, error)
}

// Config holds controller tuning
type Config struct {
	Strategy              string
	StopLossWithdrawBps   uint64
	MitigationWithdrawBps uint64
	OperationDeadline     time.Duration
}

// DefaultConfig exits the pool fully on stop-loss and halfway on mitigation
func DefaultConfig() Config {
	return Config{
		Strategy:              "none",
		StopLossWithdrawBps:   10000,
		MitigationWithdrawBps: 5000,
		OperationDeadline:     time.Minute,
	}
}

// Withdrawal reports a stop-loss or mitigation. Units is zero when the sizer
// chose not to withdraw.
type Withdrawal struct {
	Units   sdkmath.Int
	AmountA sdkmath.Int
	AmountB sdkmath.Int
}

// RebalanceResult reports what a rebalance did
type RebalanceResult struct {
	Price    core.Price
	Removed  *core.LiquidityReceipt
	Swap     *router.ExecutionResult
	Provided *core.LiquidityReceipt
}

// Option customizes a Controller
type Option func(*Controller)

// WithStrategy replaces the configured rebalance strategy
func WithStrategy(s RebalanceStrategy) Option {
	return func(c *Controller) { c.strategy = s }
}

// WithStopLossSizer replaces the stop-loss withdrawal sizer
func WithStopLossSizer(s WithdrawalSizer) Option {
	return func(c *Controller) { c.stopLossSizer = s }
}

// WithMitigationSizer replaces the mitigation withdrawal sizer
func WithMitigationSizer(s WithdrawalSizer) Option {
	return func(c *Controller) { c.mitigationSizer = s }
}

// WithClock overrides the time source used for pool deadlines
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller manages the pool position. It holds no lock of its own; callers
// serialize access through the engine.
type Controller struct {
	pool            core.IPoolVenue
	ledger          core.ILedger
	recorder        core.IEventRecorder
	swapper         Swapper
	strategy        RebalanceStrategy
	stopLossSizer   WithdrawalSizer
	mitigationSizer WithdrawalSizer
	deadline        time.Duration
	logger          core.ILogger
	tracer          trace.Tracer
	now             func() time.Time
}

func NewController(pool core.IPoolVenue, ledger core.ILedger, recorder core.IEventRecorder, swapper Swapper, cfg Config, logger core.ILogger, opts ...Option) (*Controller, error) {
	strategy, err := NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if cfg.OperationDeadline <= 0 {
		cfg.OperationDeadline = time.Minute
	}

	c := &Controller{
		pool:            pool,
		ledger:          ledger,
		recorder:        recorder,
		swapper:         swapper,
		strategy:        strategy,
		stopLossSizer:   FractionSizer{Bps: cfg.StopLossWithdrawBps},
		mitigationSizer: FractionSizer{Bps: cfg.MitigationWithdrawBps},
		deadline:        cfg.OperationDeadline,
		logger:          logger.WithField("component", "liquidity_controller"),
		tracer:          telemetry.GetTracer("liquidity"),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Strategy returns the active rebalance strategy
func (c *Controller) Strategy() RebalanceStrategy {
	return c.strategy
}

// ProvideLiquidity deposits up to amountA/amountB into the pool. The pool may take
// less of one leg to keep its ratio; the position records what was actually taken.
func (c *Controller) ProvideLiquidity(ctx context.Context, st *position.State, policy core.PolicyConfig, amountA, amountB sdkmath.Int) (core.LiquidityReceipt, error) {
	ctx, span := c.tracer.Start(ctx, "ProvideLiquidity")
	defer span.End()

	pos := st.Snapshot()
	assets := pos.Assets
	for _, leg := range []struct {
		asset  core.AssetID
		amount sdkmath.Int
	}{{assets.A, amountA}, {assets.B, amountB}} {
		if !positive(leg.amount) {
			return core.LiquidityReceipt{}, fmt.Errorf("%w: %s amount must be positive", apperrors.ErrInvalidInput, leg.asset)
		}
		if !policy.MaxOrderSize.IsNil() && leg.amount.GT(policy.MaxOrderSize) {
			return core.LiquidityReceipt{}, fmt.Errorf("%w: %s amount %s exceeds max order size %s", apperrors.ErrInvalidInput, leg.asset, leg.amount, policy.MaxOrderSize)
		}
		if bal := pos.Balance(leg.asset); leg.amount.GT(bal) {
			return core.LiquidityReceipt{}, fmt.Errorf("%w: %s balance %s < %s", apperrors.ErrInsufficientBalance, leg.asset, bal, leg.amount)
		}
	}
	if err := ctx.Err(); err != nil {
		return core.LiquidityReceipt{}, err
	}

	spender := c.pool.Name()
	if err := c.ledger.Approve(ctx, assets.A, spender, amountA); err != nil {
		return core.LiquidityReceipt{}, fmt.Errorf("%w: approve %s: %w", apperrors.ErrLiquidityFailed, assets.A, err)
	}
	ctx = context.WithoutCancel(ctx)
	if err := c.ledger.Approve(ctx, assets.B, spender, amountB); err != nil {
		c.revoke(ctx, assets.A)
		return core.LiquidityReceipt{}, fmt.Errorf("%w: approve %s: %w", apperrors.ErrLiquidityFailed, assets.B, err)
	}

	receipt, err := c.pool.AddLiquidity(ctx, amountA, amountB, c.now().Add(c.deadline))
	if err != nil {
		c.revoke(ctx, assets.A, assets.B)
		return core.LiquidityReceipt{}, fmt.Errorf("%w: %s add: %w", apperrors.ErrLiquidityFailed, spender, err)
	}
	if !validReceipt(receipt) || receipt.AmountA.GT(amountA) || receipt.AmountB.GT(amountB) || !positive(receipt.Units) {
		c.logger.Error("CRITICAL: pool returned an inconsistent deposit receipt", "pool", spender,
			"amount_a", fmtInt(receipt.AmountA), "amount_b", fmtInt(receipt.AmountB), "units", fmtInt(receipt.Units))
		return core.LiquidityReceipt{}, fmt.Errorf("%w: %s returned an inconsistent receipt", apperrors.ErrLiquidityFailed, spender)
	}
	if err := st.ApplyLiquidityAdded(receipt); err != nil {
		c.logger.Error("CRITICAL: deposit settled but position update failed", "pool", spender, "error", err)
		return core.LiquidityReceipt{}, fmt.Errorf("%w: reconcile deposit: %w", apperrors.ErrLiquidityFailed, err)
	}

	c.record(ctx, core.Event{
		Type:    core.EventLiquidityAdded,
		AmountA: core.Amount(receipt.AmountA),
		AmountB: core.Amount(receipt.AmountB),
		Units:   core.Amount(receipt.Units),
		Venue:   spender,
	})
	c.logger.Info("Liquidity added", "pool", spender,
		"amount_a", receipt.AmountA.String(), "amount_b", receipt.AmountB.String(), "units", receipt.Units.String())
	return receipt, nil
}

// RemoveLiquidity burns exactly units pool shares
func (c *Controller) RemoveLiquidity(ctx context.Context, st *position.State, units sdkmath.Int) (core.LiquidityReceipt, error) {
	ctx, span := c.tracer.Start(ctx, "RemoveLiquidity")
	defer span.End()

	pos := st.Snapshot()
	if !positive(units) {
		return core.LiquidityReceipt{}, fmt.Errorf("%w: units must be positive", apperrors.ErrInvalidInput)
	}
	if units.GT(pos.PoolShareUnits) {
		return core.LiquidityReceipt{}, fmt.Errorf("%w: cannot remove %s of %s units", apperrors.ErrInvalidInput, units, pos.PoolShareUnits)
	}
	if err := ctx.Err(); err != nil {
		return core.LiquidityReceipt{}, err
	}

	spender := c.pool.Name()
	if err := c.ledger.Approve(ctx, pos.Assets.PoolShare, spender, units); err != nil {
		return core.LiquidityReceipt{}, fmt.Errorf("%w: approve %s: %w", apperrors.ErrLiquidityFailed, pos.Assets.PoolShare, err)
	}
	ctx = context.WithoutCancel(ctx)

	receipt, err := c.pool.RemoveLiquidity(ctx, units, c.now().Add(c.deadline))
	if err != nil {
		c.revoke(ctx, pos.Assets.PoolShare)
		return core.LiquidityReceipt{}, fmt.Errorf("%w: %s remove: %w", apperrors.ErrLiquidityFailed, spender, err)
	}
	if !validReceipt(receipt) {
		c.logger.Error("CRITICAL: pool returned an inconsistent withdrawal receipt", "pool", spender, "units", units.String())
		return core.LiquidityReceipt{}, fmt.Errorf("%w: %s returned an inconsistent receipt", apperrors.ErrLiquidityFailed, spender)
	}
	receipt.Units = units
	if err := st.ApplyLiquidityRemoved(units, receipt); err != nil {
		c.logger.Error("CRITICAL: withdrawal settled but position update failed", "pool", spender, "error", err)
		return core.LiquidityReceipt{}, fmt.Errorf("%w: reconcile withdrawal: %w", apperrors.ErrLiquidityFailed, err)
	}

	c.record(ctx, core.Event{
		Type:    core.EventLiquidityRemoved,
		AmountA: core.Amount(receipt.AmountA),
		AmountB: core.Amount(receipt.AmountB),
		Units:   core.Amount(units),
		Venue:   spender,
	})
	c.logger.Info("Liquidity removed", "pool", spender,
		"units", units.String(), "amount_a", receipt.AmountA.String(), "amount_b", receipt.AmountB.String())
	return receipt, nil
}

// Rebalance applies the strategy's adjustment and then moves the reference to price.
// If any step fails the reference is left where it was.
func (c *Controller) Rebalance(ctx context.Context, st *position.State, policy core.PolicyConfig, price core.Price, now time.Time) (RebalanceResult, error) {
	ctx, span := c.tracer.Start(ctx, "Rebalance", trace.WithAttributes(
		attribute.String("strategy", c.strategy.Name()),
		attribute.Int64("price", int64(price)),
	))
	defer span.End()

	result := RebalanceResult{Price: price}
	if price <= 0 {
		return result, fmt.Errorf("%w: reference price must be positive", apperrors.ErrInvalidInput)
	}

	adj, err := c.strategy.Adjust(st.Snapshot(), policy, price)
	if err != nil {
		return result, fmt.Errorf("strategy %s: %w", c.strategy.Name(), err)
	}

	mutated := false
	if positive(adj.RemoveUnits) {
		receipt, err := c.RemoveLiquidity(ctx, st, adj.RemoveUnits)
		if err != nil {
			return result, err
		}
		result.Removed = &receipt
		mutated = true
	}
	if mutated {
		ctx = context.WithoutCancel(ctx)
	}

	if adj.Swap != nil {
		if c.swapper == nil {
			return result, fmt.Errorf("%w: strategy %s requested a swap but no router is configured", apperrors.ErrInvalidInput, c.strategy.Name())
		}
		res, err := c.swapper.Route(ctx, st, policy, *adj.Swap)
		if err != nil {
			return result, err
		}
		result.Swap = &res
		if res.Status == router.StatusExecuted {
			ctx = context.WithoutCancel(ctx)
		}
	}

	if positive(adj.ProvideA) && positive(adj.ProvideB) {
		receipt, err := c.ProvideLiquidity(ctx, st, policy, adj.ProvideA, adj.ProvideB)
		if err != nil {
			return result, err
		}
		result.Provided = &receipt
	}

	st.SetReference(price, now)
	c.record(ctx, core.Event{Type: core.EventRebalanced, Price: price})
	c.logger.Info("Rebalanced", "price", price.String(), "strategy", c.strategy.Name(), "adjusted", !adj.Empty())
	return result, nil
}

// StopLoss withdraws what the stop-loss sizer decides and records the trigger
func (c *Controller) StopLoss(ctx context.Context, st *position.State, price core.Price) (Withdrawal, error) {
	w, err := c.withdraw(ctx, st, c.stopLossSizer)
	if err != nil {
		return w, err
	}
	c.record(ctx, core.Event{
		Type:    core.EventStopLossTriggered,
		Units:   core.Amount(w.Units),
		AmountA: core.Amount(w.AmountA),
		AmountB: core.Amount(w.AmountB),
		Price:   price,
	})
	c.logger.Warn("Stop-loss triggered", "price", price.String(), "units", w.Units.String())
	return w, nil
}

// Mitigate withdraws what the mitigation sizer decides in response to an
// impermanent-loss signal
func (c *Controller) Mitigate(ctx context.Context, st *position.State, signal core.VolatilitySignal, price core.Price) (Withdrawal, error) {
	w, err := c.withdraw(ctx, st, c.mitigationSizer)
	if err != nil {
		return w, err
	}
	c.record(ctx, core.Event{
		Type:    core.EventImpermanentLossMitigation,
		Units:   core.Amount(w.Units),
		AmountA: core.Amount(w.AmountA),
		AmountB: core.Amount(w.AmountB),
		Price:   price,
	})
	c.logger.Warn("Impermanent loss mitigation",
		"il_bps", signal.ImpermanentLossBps, "threshold_bps", signal.ThresholdBps, "units", w.Units.String())
	return w, nil
}

func (c *Controller) withdraw(ctx context.Context, st *position.State, sizer WithdrawalSizer) (Withdrawal, error) {
	w := Withdrawal{Units: sdkmath.ZeroInt(), AmountA: sdkmath.ZeroInt(), AmountB: sdkmath.ZeroInt()}
	pos := st.Snapshot()

	units := sizer.Size(pos)
	if !positive(units) {
		return w, nil
	}
	if units.GT(pos.PoolShareUnits) {
		units = pos.PoolShareUnits
	}

	receipt, err := c.RemoveLiquidity(ctx, st, units)
	if err != nil {
		return w, err
	}
	w.Units, w.AmountA, w.AmountB = units, receipt.AmountA, receipt.AmountB
	return w, nil
}

// revoke zeroes allowances granted to the pool by a step that did not complete
func (c *Controller) revoke(ctx context.Context, assets ...core.AssetID) {
	for _, asset := range assets {
		if err := c.ledger.Approve(ctx, asset, c.pool.Name(), sdkmath.ZeroInt()); err != nil {
			c.logger.Warn("Failed to revoke pool allowance", "asset", asset, "error", err)
		}
	}
}

func (c *Controller) record(ctx context.Context, event core.Event) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, event); err != nil {
		c.logger.Error("Failed to record event", "type", event.Type, "error", err)
	}
}

func validReceipt(r core.LiquidityReceipt) bool {
	return !r.AmountA.IsNil() && !r.AmountB.IsNil() && !r.AmountA.IsNegative() && !r.AmountB.IsNegative()
}

func fmtInt(v sdkmath.Int) string {
	if v.IsNil() {
		return "<nil>"
	}
	return v.String()
}
