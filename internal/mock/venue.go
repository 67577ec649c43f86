package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
)

// Venue is a constant-product AMM over a shared reserve per asset.
// Each hop of a path swaps against the reserves of its two assets.
type Venue struct {
	name     string
	ledger   *Ledger
	feeBps   uint64
	reserves map[core.AssetID]sdkmath.Int
	clock    func() time.Time
	mu       sync.Mutex

	// Fault injection for tests
	QuoteDelay    time.Duration
	QuoteErr      error
	QuoteOverride *sdkmath.Int
	ExecuteErr    error
	ExecuteCalls  int
}

// NewVenue creates a venue. When ledger is non-nil the reserves are minted to the
// venue's ledger account and every Execute settles through the ledger.
func NewVenue(name string, ledger *Ledger, feeBps uint64, reserves map[core.AssetID]sdkmath.Int) *Venue {
	v := &Venue{
		name:     name,
		ledger:   ledger,
		feeBps:   feeBps,
		reserves: make(map[core.AssetID]sdkmath.Int, len(reserves)),
		clock:    time.Now,
	}
	for asset, amount := range reserves {
		v.reserves[asset] = amount
		if ledger != nil {
			ledger.Mint(name, asset, amount)
		}
	}
	return v
}

// NewFixedVenue returns a venue that always quotes and fills amountOut
func NewFixedVenue(name string, amountOut int64) *Venue {
	v := NewVenue(name, nil, 0, nil)
	out := sdkmath.NewInt(amountOut)
	v.QuoteOverride = &out
	return v
}

// SetClock overrides the time source used for deadline checks
func (v *Venue) SetClock(clock func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clock = clock
}

func (v *Venue) Name() string {
	return v.name
}

func (v *Venue) Quote(ctx context.Context, path []core.AssetID, amountIn sdkmath.Int) (sdkmath.Int, error) {
	v.mu.Lock()
	delay, quoteErr := v.QuoteDelay, v.QuoteErr
	v.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return sdkmath.Int{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if quoteErr != nil {
		return sdkmath.Int{}, quoteErr
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	out, _, err := v.simulate(path, amountIn)
	return out, err
}

func (v *Venue) Execute(ctx context.Context, path []core.AssetID, amountIn, minAmountOut sdkmath.Int, deadline time.Time) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ExecuteCalls++

	if v.ExecuteErr != nil {
		return sdkmath.Int{}, v.ExecuteErr
	}
	if v.clock().After(deadline) {
		return sdkmath.Int{}, fmt.Errorf("%s: %w", v.name, apperrors.ErrDeadlineExpired)
	}

	out, next, err := v.simulate(path, amountIn)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if out.LT(minAmountOut) {
		return sdkmath.Int{}, fmt.Errorf("%s: out %s below minimum %s: %w", v.name, out, minAmountOut, apperrors.ErrSlippageExceeded)
	}

	if v.ledger != nil {
		assetIn, assetOut := path[0], path[len(path)-1]
		if err := v.ledger.Pull(assetIn, v.ledger.Owner(), v.name, v.name, amountIn); err != nil {
			return sdkmath.Int{}, err
		}
		if err := v.ledger.Push(assetOut, v.name, v.ledger.Owner(), out); err != nil {
			return sdkmath.Int{}, err
		}
	}
	for asset, r := range next {
		v.reserves[asset] = r
	}
	return out, nil
}

// simulate walks the path and returns the output and the post-trade reserves
func (v *Venue) simulate(path []core.AssetID, amountIn sdkmath.Int) (sdkmath.Int, map[core.AssetID]sdkmath.Int, error) {
	if len(path) < 2 || amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.Int{}, nil, fmt.Errorf("%w: bad path or amount", apperrors.ErrInvalidInput)
	}
	if v.QuoteOverride != nil {
		return *v.QuoteOverride, nil, nil
	}

	next := make(map[core.AssetID]sdkmath.Int, len(path))
	reserve := func(a core.AssetID) (sdkmath.Int, bool) {
		if r, ok := next[a]; ok {
			return r, true
		}
		r, ok := v.reserves[a]
		return r, ok
	}

	amount := amountIn
	for i := 0; i+1 < len(path); i++ {
		rIn, okIn := reserve(path[i])
		rOut, okOut := reserve(path[i+1])
		if !okIn || !okOut || rIn.IsZero() || rOut.IsZero() {
			return sdkmath.Int{}, nil, fmt.Errorf("%w: %s has no market %s/%s", apperrors.ErrInvalidInput, v.name, path[i], path[i+1])
		}
		inAfterFee := amount.MulRaw(int64(core.BpsDenominator - v.feeBps)).QuoRaw(core.BpsDenominator)
		out := rOut.Mul(inAfterFee).Quo(rIn.Add(inAfterFee))
		next[path[i]] = rIn.Add(amount)
		next[path[i+1]] = rOut.Sub(out)
		amount = out
	}
	return amount, next, nil
}
