package engine

import (
	"context"
	"fmt"
	"time"

	"liquidity_engine/internal/core"
	"liquidity_engine/internal/trading/liquidity"
	"liquidity_engine/internal/trading/policy"
	"liquidity_engine/internal/trading/router"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// operatorCall authorizes caller and then takes the tick lock, waiting for any
// tick in flight. The returned release must be called exactly once.
func (e *Engine) operatorCall(ctx context.Context, caller, op string) (context.Context, func(), error) {
	if err := e.authorizer.Authorize(caller); err != nil {
		e.logger.Warn("Rejected operator call", "operation", op, "error", err)
		return ctx, nil, err
	}
	if e.stopped.Load() {
		return ctx, nil, apperrors.ErrEngineStopped
	}
	e.mu.Lock()
	if e.stopped.Load() {
		e.mu.Unlock()
		return ctx, nil, apperrors.ErrEngineStopped
	}
	ctx = core.WithTickID(ctx, "op-"+uuid.New().String())
	e.logger.Info("Operator call", "operation", op, "tick_id", core.TickIDFromContext(ctx))
	return ctx, e.mu.Unlock, nil
}

// ProvideLiquidity deposits into the pool on behalf of the operator
func (e *Engine) ProvideLiquidity(ctx context.Context, caller string, amountA, amountB sdkmath.Int) (core.LiquidityReceipt, error) {
	ctx, release, err := e.operatorCall(ctx, caller, "provide_liquidity")
	if err != nil {
		return core.LiquidityReceipt{}, err
	}
	defer release()

	receipt, err := e.controller.ProvideLiquidity(ctx, e.state, e.settings.Get(), amountA, amountB)
	return receipt, e.afterMutation(ctx, "provide_liquidity", err)
}

// RemoveLiquidity burns units of pool share on behalf of the operator
func (e *Engine) RemoveLiquidity(ctx context.Context, caller string, units sdkmath.Int) (core.LiquidityReceipt, error) {
	ctx, release, err := e.operatorCall(ctx, caller, "remove_liquidity")
	if err != nil {
		return core.LiquidityReceipt{}, err
	}
	defer release()

	receipt, err := e.controller.RemoveLiquidity(ctx, e.state, units)
	return receipt, e.afterMutation(ctx, "remove_liquidity", err)
}

// Rebalance forces a rebalance at price. It is also how the first reference price is set.
func (e *Engine) Rebalance(ctx context.Context, caller string, price core.Price) (liquidity.RebalanceResult, error) {
	ctx, release, err := e.operatorCall(ctx, caller, "rebalance")
	if err != nil {
		return liquidity.RebalanceResult{}, err
	}
	defer release()

	res, err := e.controller.Rebalance(ctx, e.state, e.settings.Get(), price, time.Now())
	return res, e.afterMutation(ctx, "rebalance", err)
}

// Swap routes an operator trade through the best venue
func (e *Engine) Swap(ctx context.Context, caller string, intent core.TradeIntent) (router.ExecutionResult, error) {
	ctx, release, err := e.operatorCall(ctx, caller, "swap")
	if err != nil {
		return router.ExecutionResult{}, err
	}
	defer release()

	res, err := e.router.Route(ctx, e.state, e.settings.Get(), intent)
	if err != nil {
		return res, e.afterMutation(ctx, "swap", err)
	}
	if res.Status == router.StatusExecuted {
		return res, e.afterMutation(ctx, "swap", nil)
	}
	return res, nil
}

// Mitigate runs the impermanent-loss mitigation with an externally supplied signal.
// Nothing is withdrawn unless the signal passes the mitigation predicate.
func (e *Engine) Mitigate(ctx context.Context, caller string, signal core.VolatilitySignal) (liquidity.Withdrawal, error) {
	ctx, release, err := e.operatorCall(ctx, caller, "mitigate")
	if err != nil {
		return liquidity.Withdrawal{}, err
	}
	defer release()

	pos := e.state.Snapshot()
	if signal.ThresholdBps == 0 {
		signal.ThresholdBps = e.settings.Get().MitigationThresholdBps
	}
	if !policy.ShouldMitigate(pos, signal) {
		return liquidity.Withdrawal{Units: sdkmath.ZeroInt(), AmountA: sdkmath.ZeroInt(), AmountB: sdkmath.ZeroInt()}, nil
	}
	w, err := e.controller.Mitigate(ctx, e.state, signal, e.markPrice(ctx))
	return w, e.afterMutation(ctx, "mitigate", err)
}

// TriggerStopLoss exits the pool immediately regardless of price
func (e *Engine) TriggerStopLoss(ctx context.Context, caller string) (liquidity.Withdrawal, error) {
	ctx, release, err := e.operatorCall(ctx, caller, "stop_loss")
	if err != nil {
		return liquidity.Withdrawal{}, err
	}
	defer release()

	w, err := e.controller.StopLoss(ctx, e.state, e.markPrice(ctx))
	return w, e.afterMutation(ctx, "stop_loss", err)
}

// markPrice is the oracle price for event records, falling back to the reference
func (e *Engine) markPrice(ctx context.Context) core.Price {
	obs, err := e.oracle.CurrentPrice(ctx)
	if err != nil {
		e.logger.Warn("Oracle unavailable, recording reference price", "error", err)
		return e.state.Snapshot().LastReferencePrice
	}
	return obs.Price
}

// Policy updates. Each replaces one field atomically; negatives are rejected.

func (e *Engine) UpdateMaxOrderSize(ctx context.Context, caller string, v int64) error {
	return e.updatePolicy(ctx, caller, "max_order_size", v, e.settings.UpdateMaxOrderSize)
}

func (e *Engine) UpdateMinProfitThreshold(ctx context.Context, caller string, v int64) error {
	return e.updatePolicy(ctx, caller, "min_profit_threshold_bps", v, e.settings.UpdateMinProfitThreshold)
}

func (e *Engine) UpdateRebalanceThreshold(ctx context.Context, caller string, v int64) error {
	return e.updatePolicy(ctx, caller, "rebalance_threshold_bps", v, e.settings.UpdateRebalanceThreshold)
}

func (e *Engine) UpdateStopLossThreshold(ctx context.Context, caller string, v int64) error {
	return e.updatePolicy(ctx, caller, "stop_loss_threshold_bps", v, e.settings.UpdateStopLossThreshold)
}

func (e *Engine) UpdateMitigationThreshold(ctx context.Context, caller string, v int64) error {
	return e.updatePolicy(ctx, caller, "mitigation_threshold_bps", v, e.settings.UpdateMitigationThreshold)
}

func (e *Engine) updatePolicy(ctx context.Context, caller, field string, v int64, update func(int64) error) error {
	_, release, err := e.operatorCall(ctx, caller, "update_"+field)
	if err != nil {
		return err
	}
	defer release()

	if err := update(v); err != nil {
		return fmt.Errorf("update %s: %w", field, err)
	}
	e.logger.Info("Policy updated", "field", field, "value", v)
	return nil
}
