package mock

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
)

// Pool is a constant-product liquidity pool for the A/B pair that mints pool-share
// units to the ledger owner. Seed reserves are owned by the pool itself.
type Pool struct {
	name       string
	ledger     *Ledger
	assets     core.AssetSet
	reserveA   sdkmath.Int
	reserveB   sdkmath.Int
	totalUnits sdkmath.Int
	clock      func() time.Time
	mu         sync.Mutex

	FailAdd    error
	FailRemove error
}

// NewPool seeds the pool with reserveA/reserveB; initial units are sqrt(a*b)
func NewPool(name string, ledger *Ledger, assets core.AssetSet, reserveA, reserveB sdkmath.Int) *Pool {
	p := &Pool{
		name:       name,
		ledger:     ledger,
		assets:     assets,
		reserveA:   reserveA,
		reserveB:   reserveB,
		totalUnits: isqrt(reserveA.Mul(reserveB)),
		clock:      time.Now,
	}
	ledger.Mint(name, assets.A, reserveA)
	ledger.Mint(name, assets.B, reserveB)
	return p
}

func (p *Pool) Name() string {
	return p.name
}

// Reserves returns the current pool reserves and total units
func (p *Pool) Reserves() (a, b, units sdkmath.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserveA, p.reserveB, p.totalUnits
}

func (p *Pool) AddLiquidity(ctx context.Context, amountA, amountB sdkmath.Int, deadline time.Time) (core.LiquidityReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.FailAdd; err != nil {
		return core.LiquidityReceipt{}, err
	}
	if p.clock().After(deadline) {
		return core.LiquidityReceipt{}, fmt.Errorf("%s: %w", p.name, apperrors.ErrDeadlineExpired)
	}
	if !amountA.IsPositive() || !amountB.IsPositive() {
		return core.LiquidityReceipt{}, fmt.Errorf("%w: amounts must be positive", apperrors.ErrInvalidInput)
	}

	var units, usedA, usedB sdkmath.Int
	if p.totalUnits.IsZero() {
		units, usedA, usedB = isqrt(amountA.Mul(amountB)), amountA, amountB
	} else {
		unitsA := amountA.Mul(p.totalUnits).Quo(p.reserveA)
		unitsB := amountB.Mul(p.totalUnits).Quo(p.reserveB)
		units = sdkmath.MinInt(unitsA, unitsB)
		// Deposit only what the pool ratio accepts; round in the pool's favour
		usedA = ceilDiv(units.Mul(p.reserveA), p.totalUnits)
		usedB = ceilDiv(units.Mul(p.reserveB), p.totalUnits)
		usedA = sdkmath.MinInt(usedA, amountA)
		usedB = sdkmath.MinInt(usedB, amountB)
	}
	if !units.IsPositive() {
		return core.LiquidityReceipt{}, fmt.Errorf("%w: deposit too small to mint units", apperrors.ErrLiquidityFailed)
	}

	owner := p.ledger.Owner()
	if err := p.ledger.Pull(p.assets.A, owner, p.name, p.name, usedA); err != nil {
		return core.LiquidityReceipt{}, err
	}
	if err := p.ledger.Pull(p.assets.B, owner, p.name, p.name, usedB); err != nil {
		// Return the first leg so a failed add has no net effect
		_ = p.ledger.Push(p.assets.A, p.name, owner, usedA)
		return core.LiquidityReceipt{}, err
	}
	p.ledger.Mint(owner, p.assets.PoolShare, units)

	p.reserveA = p.reserveA.Add(usedA)
	p.reserveB = p.reserveB.Add(usedB)
	p.totalUnits = p.totalUnits.Add(units)

	return core.LiquidityReceipt{AmountA: usedA, AmountB: usedB, Units: units}, nil
}

func (p *Pool) RemoveLiquidity(ctx context.Context, units sdkmath.Int, deadline time.Time) (core.LiquidityReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.FailRemove; err != nil {
		return core.LiquidityReceipt{}, err
	}
	if p.clock().After(deadline) {
		return core.LiquidityReceipt{}, fmt.Errorf("%s: %w", p.name, apperrors.ErrDeadlineExpired)
	}
	if !units.IsPositive() || units.GT(p.totalUnits) {
		return core.LiquidityReceipt{}, fmt.Errorf("%w: cannot burn %s units", apperrors.ErrInvalidInput, units)
	}

	owner := p.ledger.Owner()
	if err := p.ledger.Pull(p.assets.PoolShare, owner, p.name, p.name, units); err != nil {
		return core.LiquidityReceipt{}, err
	}
	if err := p.ledger.Burn(p.name, p.assets.PoolShare, units); err != nil {
		return core.LiquidityReceipt{}, err
	}

	outA := units.Mul(p.reserveA).Quo(p.totalUnits)
	outB := units.Mul(p.reserveB).Quo(p.totalUnits)
	if err := p.ledger.Push(p.assets.A, p.name, owner, outA); err != nil {
		return core.LiquidityReceipt{}, err
	}
	if err := p.ledger.Push(p.assets.B, p.name, owner, outB); err != nil {
		return core.LiquidityReceipt{}, err
	}

	p.reserveA = p.reserveA.Sub(outA)
	p.reserveB = p.reserveB.Sub(outB)
	p.totalUnits = p.totalUnits.Sub(units)

	return core.LiquidityReceipt{AmountA: outA, AmountB: outB, Units: units}, nil
}

func isqrt(x sdkmath.Int) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(new(big.Int).Sqrt(x.BigInt()))
}

func ceilDiv(a, b sdkmath.Int) sdkmath.Int {
	q := a.Quo(b)
	if !a.Mod(b).IsZero() {
		q = q.AddRaw(1)
	}
	return q
}
