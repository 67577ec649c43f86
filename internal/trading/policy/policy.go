// Package policy maps a position and an oracle price to a decision.
// Everything here is pure: no I/O, no logging, no errors.
package policy

import (
	"liquidity_engine/internal/core"

	sdkmath "cosmossdk.io/math"
)

// Evaluation is the full result of one policy evaluation
type Evaluation struct {
	Decision     core.Decision
	PriceDiffBps uint64
	// Adverse is true when the current price is below the reference
	Adverse bool
	// Degenerate is set when no reference price exists yet; Decision is then None
	Degenerate bool
}

// Evaluate applies the threshold policy. Stop-loss wins over rebalance.
// Thresholds are literal: a zero stop-loss fires on any adverse move and a
// zero rebalance threshold fires on every evaluation with a reference.
func Evaluate(pos core.Position, cfg core.PolicyConfig, current core.Price) Evaluation {
	ref := pos.LastReferencePrice
	if ref <= 0 {
		return Evaluation{Decision: core.DecisionNone, Degenerate: true}
	}

	diff, adverse := PriceDiffBps(ref, current)
	eval := Evaluation{Decision: core.DecisionNone, PriceDiffBps: diff, Adverse: adverse}

	switch {
	case adverse && diff > cfg.StopLossThresholdBps:
		eval.Decision = core.DecisionStopLoss
	case diff >= cfg.RebalanceThresholdBps:
		eval.Decision = core.DecisionRebalance
	}
	return eval
}

// PriceDiffBps returns |current-ref|*10000/ref truncated, and whether current is below ref.
// ref must be positive.
func PriceDiffBps(ref, current core.Price) (uint64, bool) {
	r := sdkmath.NewInt(int64(ref))
	delta := sdkmath.NewInt(int64(current)).Sub(r)
	adverse := delta.IsNegative()
	bps := delta.Abs().MulRaw(core.BpsDenominator).Quo(r)
	if !bps.IsUint64() {
		return ^uint64(0), adverse
	}
	return bps.Uint64(), adverse
}

// ShouldMitigate reports whether the volatility signal warrants withdrawing liquidity.
// Only a position with pool units can be mitigated; a zero threshold disables mitigation.
func ShouldMitigate(pos core.Position, signal core.VolatilitySignal) bool {
	if pos.PoolShareUnits.IsNil() || !pos.PoolShareUnits.IsPositive() {
		return false
	}
	if signal.ThresholdBps == 0 {
		return false
	}
	return signal.ImpermanentLossBps >= signal.ThresholdBps
}
