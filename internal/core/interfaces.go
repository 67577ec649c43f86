// Package core defines the core interfaces for the liquidity engine
package core

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
)

// IOracle provides the external reference price
type IOracle interface {
	CurrentPrice(ctx context.Context) (PriceObservation, error)
}

// IVenue is an execution venue able to quote and fill a swap along an asset path
type IVenue interface {
	// Name identifies the venue; it is also the spender approved on the ledger before Execute.
	Name() string
	Quote(ctx context.Context, path []AssetID, amountIn sdkmath.Int) (sdkmath.Int, error)
	Execute(ctx context.Context, path []AssetID, amountIn, minAmountOut sdkmath.Int, deadline time.Time) (sdkmath.Int, error)
}

// IPoolVenue is the liquidity pool holding the A/B pair
type IPoolVenue interface {
	Name() string
	AddLiquidity(ctx context.Context, amountA, amountB sdkmath.Int, deadline time.Time) (LiquidityReceipt, error)
	RemoveLiquidity(ctx context.Context, units sdkmath.Int, deadline time.Time) (LiquidityReceipt, error)
}

// ILedger settles value for the held assets and the pool-share token
type ILedger interface {
	BalanceOf(ctx context.Context, asset AssetID) (sdkmath.Int, error)
	Approve(ctx context.Context, asset AssetID, spender string, amount sdkmath.Int) error
	Transfer(ctx context.Context, asset AssetID, to string, amount sdkmath.Int) error
	TransferFrom(ctx context.Context, asset AssetID, from, to string, amount sdkmath.Int) error
}

// IEventRecorder is the append-only audit trail the core writes to
type IEventRecorder interface {
	Record(ctx context.Context, event Event) error
}

// IPositionStore persists position snapshots for restart recovery
type IPositionStore interface {
	SavePosition(ctx context.Context, pos Position) error
	LoadPosition(ctx context.Context) (*Position, error)
}

// IVolatilitySource produces the impermanent-loss signal consumed by the mitigation check
type IVolatilitySource interface {
	Signal(ctx context.Context, pos Position, obs PriceObservation) (VolatilitySignal, error)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
