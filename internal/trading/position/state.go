// Package position holds the engine's single mutable position record
package position

import (
	"fmt"
	"sync"
	"time"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
)

// State wraps core.Position. Writers are serialized by the engine's tick lock;
// the internal RWMutex only lets observers take consistent snapshots mid-tick.
// Every mutator validates first and commits in one step, so a failed call
// leaves the position untouched.
type State struct {
	mu  sync.RWMutex
	pos core.Position
}

// NewState creates an empty position over assets
func NewState(assets core.AssetSet) *State {
	return &State{pos: core.NewPosition(assets)}
}

// Snapshot returns a copy of the position
func (s *State) Snapshot() core.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}

// Assets returns the configured asset set
func (s *State) Assets() core.AssetSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos.Assets
}

// Balance returns the held amount of asset
func (s *State) Balance(asset core.AssetID) sdkmath.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos.Balance(asset)
}

// Restore replaces the position with a persisted one. The asset set must match.
func (s *State) Restore(p core.Position) error {
	if p.Assets != s.Assets() {
		return fmt.Errorf("%w: persisted assets %+v do not match configured %+v", apperrors.ErrInvalidInput, p.Assets, s.Assets())
	}
	normalized := core.NewPosition(p.Assets)
	for _, pair := range []struct {
		dst *sdkmath.Int
		src sdkmath.Int
	}{
		{&normalized.BalanceA, p.BalanceA},
		{&normalized.BalanceB, p.BalanceB},
		{&normalized.BalanceC, p.BalanceC},
		{&normalized.PoolShareUnits, p.PoolShareUnits},
	} {
		if pair.src.IsNil() {
			continue
		}
		if pair.src.IsNegative() {
			return fmt.Errorf("%w: negative amount in persisted position", apperrors.ErrInvalidInput)
		}
		*pair.dst = pair.src
	}
	normalized.LastReferencePrice = p.LastReferencePrice
	normalized.LastRebalanceTimestamp = p.LastRebalanceTimestamp

	s.mu.Lock()
	s.pos = normalized
	s.mu.Unlock()
	return nil
}

// Credit adds amount of a held asset, used when funding the position
func (s *State) Credit(asset core.AssetID, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: credit amount must be non-negative", apperrors.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.pos
	if err := adjust(&next, asset, amount); err != nil {
		return err
	}
	s.pos = next
	return nil
}

// ApplySwap debits amountIn of assetIn and credits amountOut of assetOut
func (s *State) ApplySwap(assetIn, assetOut core.AssetID, amountIn, amountOut sdkmath.Int) error {
	if amountIn.IsNil() || amountOut.IsNil() || amountIn.IsNegative() || amountOut.IsNegative() {
		return fmt.Errorf("%w: swap amounts must be non-negative", apperrors.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.pos
	if err := adjust(&next, assetIn, amountIn.Neg()); err != nil {
		return err
	}
	if err := adjust(&next, assetOut, amountOut); err != nil {
		return err
	}
	s.pos = next
	return nil
}

// ApplyLiquidityAdded debits the deposited amounts and credits the minted units
func (s *State) ApplyLiquidityAdded(r core.LiquidityReceipt) error {
	if !r.Units.IsPositive() {
		return fmt.Errorf("%w: pool minted no units", apperrors.ErrLiquidityFailed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.pos
	if err := adjust(&next, next.Assets.A, r.AmountA.Neg()); err != nil {
		return err
	}
	if err := adjust(&next, next.Assets.B, r.AmountB.Neg()); err != nil {
		return err
	}
	next.PoolShareUnits = next.PoolShareUnits.Add(r.Units)
	s.pos = next
	return nil
}

// ApplyLiquidityRemoved burns units and credits the returned amounts
func (s *State) ApplyLiquidityRemoved(units sdkmath.Int, r core.LiquidityReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !units.IsPositive() || units.GT(s.pos.PoolShareUnits) {
		return fmt.Errorf("%w: cannot burn %s of %s units", apperrors.ErrInvalidInput, units, s.pos.PoolShareUnits)
	}
	next := s.pos
	next.PoolShareUnits = next.PoolShareUnits.Sub(units)
	if err := adjust(&next, next.Assets.A, r.AmountA); err != nil {
		return err
	}
	if err := adjust(&next, next.Assets.B, r.AmountB); err != nil {
		return err
	}
	s.pos = next
	return nil
}

// SetReference records a successful rebalance
func (s *State) SetReference(price core.Price, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos.LastReferencePrice = price
	s.pos.LastRebalanceTimestamp = at
}

// adjust applies a signed delta to one held balance of p
func adjust(p *core.Position, asset core.AssetID, delta sdkmath.Int) error {
	if delta.IsNil() {
		return nil
	}
	var target *sdkmath.Int
	switch {
	case asset == "":
	case asset == p.Assets.A:
		target = &p.BalanceA
	case asset == p.Assets.B:
		target = &p.BalanceB
	case p.Assets.C != "" && asset == p.Assets.C:
		target = &p.BalanceC
	}
	if target == nil {
		return fmt.Errorf("%w: asset %q is not held", apperrors.ErrInvalidInput, asset)
	}
	next := target.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: %s balance %s cannot cover %s", apperrors.ErrInsufficientBalance, asset, *target, delta.Neg())
	}
	*target = next
	return nil
}
