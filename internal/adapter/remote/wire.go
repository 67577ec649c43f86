// Package remote adapts HTTP services to the engine's oracle, venue, pool and
// ledger interfaces. Amounts travel as decimal integer strings.
package remote

import (
	"fmt"
	"time"

	"liquidity_engine/internal/core"
	apperrors "liquidity_engine/pkg/errors"

	sdkmath "cosmossdk.io/math"
)

type priceResponse struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"` // unix millis
}

type quoteRequest struct {
	Path     []string `json:"path"`
	AmountIn string   `json:"amount_in"`
}

type amountResponse struct {
	AmountOut string `json:"amount_out"`
}

type executeRequest struct {
	Path         []string `json:"path"`
	AmountIn     string   `json:"amount_in"`
	MinAmountOut string   `json:"min_amount_out"`
	Deadline     int64    `json:"deadline"` // unix millis
}

type addLiquidityRequest struct {
	AmountA  string `json:"amount_a"`
	AmountB  string `json:"amount_b"`
	Deadline int64  `json:"deadline"`
}

type removeLiquidityRequest struct {
	Units    string `json:"units"`
	Deadline int64  `json:"deadline"`
}

type receiptResponse struct {
	AmountA string `json:"amount_a"`
	AmountB string `json:"amount_b"`
	Units   string `json:"units"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

type approveRequest struct {
	Owner   string `json:"owner"`
	Asset   string `json:"asset"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type transferRequest struct {
	Asset  string `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func pathStrings(path []core.AssetID) []string {
	out := make([]string, len(path))
	for i, a := range path {
		out[i] = string(a)
	}
	return out
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// parseAmount decodes a non-negative integer amount returned by a remote service
func parseAmount(field, s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok || v.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("%w: malformed %s %q", apperrors.ErrNetwork, field, s)
	}
	return v, nil
}

func (r receiptResponse) receipt() (core.LiquidityReceipt, error) {
	a, err := parseAmount("amount_a", r.AmountA)
	if err != nil {
		return core.LiquidityReceipt{}, err
	}
	b, err := parseAmount("amount_b", r.AmountB)
	if err != nil {
		return core.LiquidityReceipt{}, err
	}
	units, err := parseAmount("units", r.Units)
	if err != nil {
		return core.LiquidityReceipt{}, err
	}
	return core.LiquidityReceipt{AmountA: a, AmountB: b, Units: units}, nil
}
