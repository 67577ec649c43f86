package router

import (
	"sort"

	"liquidity_engine/internal/core"

	sdkmath "cosmossdk.io/math"
)

// rankQuotes returns the usable quotes ordered best first: greatest AmountOut,
// ties broken by lowest priority index.
func rankQuotes(quotes []core.VenueQuote) []core.VenueQuote {
	ranked := make([]core.VenueQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.OK() && !q.AmountOut.IsNegative() {
			ranked = append(ranked, q)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if !ranked[i].AmountOut.Equal(ranked[j].AmountOut) {
			return ranked[i].AmountOut.GT(ranked[j].AmountOut)
		}
		return ranked[i].Priority < ranked[j].Priority
	})
	return ranked
}

// edgeBps is (best-reference)*10000/reference, truncated.
// A non-positive reference yields ok=false: there is nothing to measure against.
func edgeBps(best, reference sdkmath.Int) (bps sdkmath.Int, ok bool) {
	if reference.IsNil() || !reference.IsPositive() {
		return sdkmath.ZeroInt(), false
	}
	return best.Sub(reference).MulRaw(core.BpsDenominator).Quo(reference), true
}

// profitGate decides whether the best quote is worth executing.
// With two or more responders the edge is measured against the runner-up; a lone
// responder is measured against the no-trade baseline.
func profitGate(ranked []core.VenueQuote, intent core.TradeIntent, minProfitBps uint64) (edge sdkmath.Int, pass bool) {
	best := ranked[0].AmountOut
	if !intent.MinAcceptableOut.IsNil() && best.LT(intent.MinAcceptableOut) {
		return sdkmath.ZeroInt(), false
	}

	var reference sdkmath.Int
	if len(ranked) > 1 {
		reference = ranked[1].AmountOut
		if !reference.IsPositive() {
			// A zero runner-up cannot be beaten by a percentage; any positive best wins
			return sdkmath.ZeroInt(), best.IsPositive()
		}
	} else {
		reference = intent.AmountIn
		if !intent.MinAcceptableOut.IsNil() && intent.MinAcceptableOut.IsPositive() {
			reference = intent.MinAcceptableOut
		}
	}

	edge, ok := edgeBps(best, reference)
	if !ok {
		return edge, false
	}
	return edge, edge.GTE(sdkmath.NewIntFromUint64(minProfitBps))
}

// slippageFloor is max(intentMin, quote*(10000-maxSlippageBps)/10000)
func slippageFloor(quote, intentMin sdkmath.Int, maxSlippageBps uint64) sdkmath.Int {
	if maxSlippageBps > core.BpsDenominator {
		maxSlippageBps = core.BpsDenominator
	}
	floor := quote.MulRaw(int64(core.BpsDenominator - maxSlippageBps)).QuoRaw(core.BpsDenominator)
	if !intentMin.IsNil() && intentMin.GT(floor) {
		return intentMin
	}
	return floor
}
