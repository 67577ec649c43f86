// Package monitor derives the impermanent-loss signal consumed by the mitigation check
package monitor

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"
	"liquidity_engine/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// ILMonitor implements core.IVolatilitySource for a constant-product pool.
// For a price ratio r = current/reference the loss versus holding is
// 1 - 2*sqrt(r)/(1+r).
type ILMonitor struct {
	threshold func() uint64
	logger    core.ILogger

	// holds core.VolatilitySignal
	last atomic.Value
}

// NewILMonitor creates a monitor. threshold is read on every signal so operator
// updates to the mitigation threshold apply immediately.
func NewILMonitor(threshold func() uint64, logger core.ILogger) *ILMonitor {
	m := &ILMonitor{
		threshold: threshold,
		logger:    logger.WithField("component", "il_monitor"),
	}
	m.last.Store(core.VolatilitySignal{})
	return m
}

// Signal computes the impermanent loss of pos at obs against its reference price.
// A position without a reference yields ErrDegenerateState.
func (m *ILMonitor) Signal(ctx context.Context, pos core.Position, obs core.PriceObservation) (core.VolatilitySignal, error) {
	if pos.LastReferencePrice <= 0 {
		return core.VolatilitySignal{}, apperrors.ErrDegenerateState
	}
	if obs.Price < 0 {
		return core.VolatilitySignal{}, fmt.Errorf("%w: negative price %d", apperrors.ErrInvalidInput, obs.Price)
	}

	il := ImpermanentLossBps(pos.LastReferencePrice, obs.Price)
	sig := core.VolatilitySignal{
		ImpermanentLossBps: il,
		ThresholdBps:       m.threshold(),
		ObservedAt:         obs.ObservedAt,
	}
	m.last.Store(sig)
	telemetry.GetGlobalMetrics().SetImpermanentLoss(il)

	m.logger.Debug("Impermanent loss computed",
		"reference", pos.LastReferencePrice.String(), "price", obs.Price.String(), "il_bps", il)
	return sig, nil
}

// Latest returns the most recent signal, zero before the first computation
func (m *ILMonitor) Latest() core.VolatilitySignal {
	return m.last.Load().(core.VolatilitySignal)
}

// ImpermanentLossBps returns the loss in basis points, truncated. A zero price is a
// total loss.
func ImpermanentLossBps(reference, current core.Price) uint64 {
	if reference <= 0 {
		return 0
	}
	if current <= 0 {
		return core.BpsDenominator
	}
	r := current.Decimal().Div(reference.Decimal())
	rf, _ := r.Float64()
	sqrtR := decimal.NewFromFloat(math.Sqrt(rf))

	one := decimal.NewFromInt(1)
	loss := one.Sub(sqrtR.Mul(decimal.NewFromInt(2)).Div(one.Add(r)))
	if loss.IsNegative() {
		return 0
	}
	bps := loss.Mul(decimal.NewFromInt(core.BpsDenominator)).Truncate(0)
	if bps.GreaterThan(decimal.NewFromInt(core.BpsDenominator)) {
		return core.BpsDenominator
	}
	return uint64(bps.IntPart())
}
