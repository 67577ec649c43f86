package core

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// EventType names an audit event
type EventType string

const (
	EventLiquidityAdded            EventType = "LiquidityAdded"
	EventLiquidityRemoved          EventType = "LiquidityRemoved"
	EventSwapExecuted              EventType = "SwapExecuted"
	EventRebalanced                EventType = "Rebalanced"
	EventImpermanentLossMitigation EventType = "ImpermanentLossMitigation"
	EventStopLossTriggered         EventType = "StopLossTriggered"
)

// Event is an append-only audit record carrying the literal amounts involved.
// Fields not relevant to the event type are left nil/zero.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TickID    string    `json:"tick_id,omitempty"`

	AssetIn   AssetID      `json:"asset_in,omitempty"`
	AssetOut  AssetID      `json:"asset_out,omitempty"`
	AmountIn  *sdkmath.Int `json:"amount_in,omitempty"`
	AmountOut *sdkmath.Int `json:"amount_out,omitempty"`
	Venue     string       `json:"venue,omitempty"`

	AmountA *sdkmath.Int `json:"amount_a,omitempty"`
	AmountB *sdkmath.Int `json:"amount_b,omitempty"`
	Units   *sdkmath.Int `json:"units,omitempty"`

	Price Price `json:"price,omitempty"`
}

// Amount returns a pointer copy suitable for the optional Event fields
func Amount(v sdkmath.Int) *sdkmath.Int {
	return &v
}
