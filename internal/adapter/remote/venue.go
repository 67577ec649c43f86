package remote

import (
	"context"
	"time"

	"liquidity_engine/internal/core"
	httpclient "liquidity_engine/pkg/http"

	sdkmath "cosmossdk.io/math"
)

// Venue is an execution venue behind POST /quote and POST /swap
type Venue struct {
	name   string
	quotes *httpclient.Client
	swaps  *httpclient.Client
	logger core.ILogger
}

// NewVenue creates a venue client. Quotes honor opts.MaxRetries; swaps are never retried.
func NewVenue(name string, opts httpclient.Options, logger core.ILogger) *Venue {
	opts.Name = name
	swapOpts := opts
	swapOpts.MaxRetries = 0
	return &Venue{
		name:   name,
		quotes: httpclient.NewClient(opts),
		swaps:  httpclient.NewClient(swapOpts),
		logger: logger.WithField("venue", name),
	}
}

func (v *Venue) Name() string {
	return v.name
}

func (v *Venue) Quote(ctx context.Context, path []core.AssetID, amountIn sdkmath.Int) (sdkmath.Int, error) {
	var resp amountResponse
	err := v.quotes.PostJSON(ctx, "/quote", quoteRequest{
		Path:     pathStrings(path),
		AmountIn: amountIn.String(),
	}, &resp)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return parseAmount("amount_out", resp.AmountOut)
}

func (v *Venue) Execute(ctx context.Context, path []core.AssetID, amountIn, minAmountOut sdkmath.Int, deadline time.Time) (sdkmath.Int, error) {
	var resp amountResponse
	err := v.swaps.PostJSON(ctx, "/swap", executeRequest{
		Path:         pathStrings(path),
		AmountIn:     amountIn.String(),
		MinAmountOut: minAmountOut.String(),
		Deadline:     millis(deadline),
	}, &resp)
	if err != nil {
		v.logger.Warn("Swap rejected", "amount_in", amountIn.String(), "error", err)
		return sdkmath.Int{}, mapRejection(err)
	}
	out, err := parseAmount("amount_out", resp.AmountOut)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return out, nil
}
