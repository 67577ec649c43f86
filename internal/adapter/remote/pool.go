package remote

import (
	"context"
	"time"

	"liquidity_engine/internal/core"
	httpclient "liquidity_engine/pkg/http"

	sdkmath "cosmossdk.io/math"
)

// Pool is the liquidity pool behind POST /liquidity/add and POST /liquidity/remove
type Pool struct {
	name   string
	client *httpclient.Client
}

// NewPool creates a pool client. Deposits and withdrawals move funds, so retries are disabled.
func NewPool(name string, opts httpclient.Options) *Pool {
	opts.Name = name
	opts.MaxRetries = 0
	return &Pool{name: name, client: httpclient.NewClient(opts)}
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) AddLiquidity(ctx context.Context, amountA, amountB sdkmath.Int, deadline time.Time) (core.LiquidityReceipt, error) {
	var resp receiptResponse
	err := p.client.PostJSON(ctx, "/liquidity/add", addLiquidityRequest{
		AmountA:  amountA.String(),
		AmountB:  amountB.String(),
		Deadline: millis(deadline),
	}, &resp)
	if err != nil {
		return core.LiquidityReceipt{}, mapRejection(err)
	}
	return resp.receipt()
}

func (p *Pool) RemoveLiquidity(ctx context.Context, units sdkmath.Int, deadline time.Time) (core.LiquidityReceipt, error) {
	var resp receiptResponse
	err := p.client.PostJSON(ctx, "/liquidity/remove", removeLiquidityRequest{
		Units:    units.String(),
		Deadline: millis(deadline),
	}, &resp)
	if err != nil {
		return core.LiquidityReceipt{}, mapRejection(err)
	}
	return resp.receipt()
}
