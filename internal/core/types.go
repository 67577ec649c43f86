package core

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// PriceDecimals is the fixed-point precision of oracle prices.
const PriceDecimals = 8

// BpsDenominator is the number of basis points in 100%.
const BpsDenominator = 10000

// Price is an 8-decimal fixed point price as reported by the oracle
type Price int64

// Decimal returns the human-scaled price
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -PriceDecimals)
}

func (p Price) String() string {
	return p.Decimal().String()
}

// PriceFromDecimal truncates d to PriceDecimals places
func PriceFromDecimal(d decimal.Decimal) (Price, error) {
	scaled := d.Shift(PriceDecimals).Truncate(0)
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("price %s out of range", d)
	}
	return Price(scaled.IntPart()), nil
}

// AssetID identifies a tradable asset (token denom or contract address)
type AssetID string

// AssetSet names the held assets. C is empty when the position holds two assets.
type AssetSet struct {
	A         AssetID `json:"a" yaml:"a"`
	B         AssetID `json:"b" yaml:"b"`
	C         AssetID `json:"c,omitempty" yaml:"c"`
	PoolShare AssetID `json:"pool_share" yaml:"pool_share"`
}

// Contains reports whether id is one of the held assets
func (s AssetSet) Contains(id AssetID) bool {
	if id == "" {
		return false
	}
	return id == s.A || id == s.B || (s.C != "" && id == s.C)
}

// PriceObservation is a single oracle reading
type PriceObservation struct {
	Price      Price
	Decimals   int
	ObservedAt time.Time
}

// Decision is the outcome of a threshold policy evaluation
type Decision int

const (
	DecisionNone Decision = iota
	DecisionRebalance
	DecisionStopLoss
	DecisionMitigate
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "NONE"
	case DecisionRebalance:
		return "REBALANCE"
	case DecisionStopLoss:
		return "STOP_LOSS"
	case DecisionMitigate:
		return "MITIGATE"
	default:
		return "UNKNOWN"
	}
}

// Position is the engine's single mutable record.
// Amounts are never negative; PoolShareUnits is zero until liquidity is provided.
type Position struct {
	Assets                 AssetSet    `json:"assets"`
	BalanceA               sdkmath.Int `json:"balance_a"`
	BalanceB               sdkmath.Int `json:"balance_b"`
	BalanceC               sdkmath.Int `json:"balance_c"`
	PoolShareUnits         sdkmath.Int `json:"pool_share_units"`
	LastReferencePrice     Price       `json:"last_reference_price"`
	LastRebalanceTimestamp time.Time   `json:"last_rebalance_timestamp"`
}

// NewPosition returns an empty position over the given assets
func NewPosition(assets AssetSet) Position {
	return Position{
		Assets:         assets,
		BalanceA:       sdkmath.ZeroInt(),
		BalanceB:       sdkmath.ZeroInt(),
		BalanceC:       sdkmath.ZeroInt(),
		PoolShareUnits: sdkmath.ZeroInt(),
	}
}

// Balance returns the held amount of asset, or zero when the asset is not held
func (p Position) Balance(asset AssetID) sdkmath.Int {
	switch {
	case asset == "":
		return sdkmath.ZeroInt()
	case asset == p.Assets.A:
		return p.BalanceA
	case asset == p.Assets.B:
		return p.BalanceB
	case p.Assets.C != "" && asset == p.Assets.C:
		return p.BalanceC
	}
	return sdkmath.ZeroInt()
}

// PolicyConfig holds the operator-tunable limits and thresholds
type PolicyConfig struct {
	MaxOrderSize           sdkmath.Int `json:"max_order_size"`
	MinProfitThresholdBps  uint64      `json:"min_profit_threshold_bps"`
	RebalanceThresholdBps  uint64      `json:"rebalance_threshold_bps"`
	StopLossThresholdBps   uint64      `json:"stop_loss_threshold_bps"`
	MitigationThresholdBps uint64      `json:"mitigation_threshold_bps"`
}

// TradeIntent is created per routing decision and never persisted
type TradeIntent struct {
	AmountIn         sdkmath.Int
	Route            []AssetID
	MinAcceptableOut sdkmath.Int
}

// AssetIn returns the first hop of the route
func (t TradeIntent) AssetIn() AssetID {
	if len(t.Route) == 0 {
		return ""
	}
	return t.Route[0]
}

// AssetOut returns the last hop of the route
func (t TradeIntent) AssetOut() AssetID {
	if len(t.Route) == 0 {
		return ""
	}
	return t.Route[len(t.Route)-1]
}

// VenueQuote is the result of querying one venue within a single routing decision
type VenueQuote struct {
	VenueID   string
	Priority  int
	AmountOut sdkmath.Int
	Latency   time.Duration
	Err       error
}

// OK reports whether the venue responded with a usable quote
func (q VenueQuote) OK() bool {
	return q.Err == nil && !q.AmountOut.IsNil()
}

// LiquidityReceipt is what a pool venue reports for an add or remove
type LiquidityReceipt struct {
	AmountA sdkmath.Int
	AmountB sdkmath.Int
	Units   sdkmath.Int
}

// VolatilitySignal is supplied by external monitoring to the mitigation predicate
type VolatilitySignal struct {
	ImpermanentLossBps uint64
	ThresholdBps       uint64
	ObservedAt         time.Time
}
