package liquidity

import (
	"fmt"
	"strings"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
)

// Adjustment is what a rebalance applies, in order: remove, swap, provide.
// Nil or zero fields are skipped.
type Adjustment struct {
	RemoveUnits sdkmath.Int
	Swap        *core.TradeIntent
	ProvideA    sdkmath.Int
	ProvideB    sdkmath.Int
}

// Empty reports whether the adjustment does nothing
func (a Adjustment) Empty() bool {
	return !positive(a.RemoveUnits) && a.Swap == nil && !(positive(a.ProvideA) && positive(a.ProvideB))
}

// RebalanceStrategy decides the position adjustment made when the price has moved
// past the rebalance threshold
type RebalanceStrategy interface {
	Name() string
	Adjust(pos core.Position, policy core.PolicyConfig, price core.Price) (Adjustment, error)
}

// NoopStrategy only moves the reference price
type NoopStrategy struct{}

func (NoopStrategy) Name() string { return "none" }

func (NoopStrategy) Adjust(core.Position, core.PolicyConfig, core.Price) (Adjustment, error) {
	return Adjustment{}, nil
}

// RedeployStrategy puts idle A and B balances back into the pool, each leg
// capped at the max order size
type RedeployStrategy struct{}

func (RedeployStrategy) Name() string { return "redeploy" }

func (RedeployStrategy) Adjust(pos core.Position, policy core.PolicyConfig, _ core.Price) (Adjustment, error) {
	a := capAt(pos.BalanceA, policy.MaxOrderSize)
	b := capAt(pos.BalanceB, policy.MaxOrderSize)
	if !positive(a) || !positive(b) {
		return Adjustment{}, nil
	}
	return Adjustment{ProvideA: a, ProvideB: b}, nil
}

// NewStrategy resolves a strategy by its configured name
func NewStrategy(name string) (RebalanceStrategy, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return NoopStrategy{}, nil
	case "redeploy":
		return RedeployStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown rebalance strategy %q", apperrors.ErrInvalidInput, name)
	}
}

// WithdrawalSizer decides how many pool-share units a stop-loss or mitigation burns
type WithdrawalSizer interface {
	Size(pos core.Position) sdkmath.Int
}

// FractionSizer withdraws Bps/10000 of the held units, truncated
type FractionSizer struct {
	Bps uint64
}

func (s FractionSizer) Size(pos core.Position) sdkmath.Int {
	if !positive(pos.PoolShareUnits) || s.Bps == 0 {
		return sdkmath.ZeroInt()
	}
	if s.Bps >= core.BpsDenominator {
		return pos.PoolShareUnits
	}
	return pos.PoolShareUnits.Mul(sdkmath.NewIntFromUint64(s.Bps)).QuoRaw(core.BpsDenominator)
}

// ZeroSizer never withdraws; the trigger is recorded only
type ZeroSizer struct{}

func (ZeroSizer) Size(core.Position) sdkmath.Int { return sdkmath.ZeroInt() }

func positive(v sdkmath.Int) bool {
	return !v.IsNil() && v.IsPositive()
}

func capAt(v, max sdkmath.Int) sdkmath.Int {
	if v.IsNil() {
		return sdkmath.ZeroInt()
	}
	if !max.IsNil() && v.GT(max) {
		return max
	}
	return v
}
