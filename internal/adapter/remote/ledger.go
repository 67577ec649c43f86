package remote

import (
	"context"

	"liquidity_engine/internal/core"
	httpclient "liquidity_engine/pkg/http"

	sdkmath "cosmossdk.io/math"
)

// Ledger settles through a ledger service on behalf of one account
type Ledger struct {
	account string
	reads   *httpclient.Client
	writes  *httpclient.Client
}

// NewLedger creates a ledger client for account. Balance reads honor opts.MaxRetries.
func NewLedger(account string, opts httpclient.Options) *Ledger {
	if opts.Name == "" {
		opts.Name = "ledger"
	}
	writeOpts := opts
	writeOpts.MaxRetries = 0
	return &Ledger{
		account: account,
		reads:   httpclient.NewClient(opts),
		writes:  httpclient.NewClient(writeOpts),
	}
}

func (l *Ledger) BalanceOf(ctx context.Context, asset core.AssetID) (sdkmath.Int, error) {
	var resp balanceResponse
	params := map[string]string{"account": l.account, "asset": string(asset)}
	if err := l.reads.GetJSON(ctx, "/balance", params, &resp); err != nil {
		return sdkmath.Int{}, err
	}
	return parseAmount("balance", resp.Balance)
}

func (l *Ledger) Approve(ctx context.Context, asset core.AssetID, spender string, amount sdkmath.Int) error {
	err := l.writes.PostJSON(ctx, "/approve", approveRequest{
		Owner:   l.account,
		Asset:   string(asset),
		Spender: spender,
		Amount:  amount.String(),
	}, nil)
	return mapLedgerRejection(err)
}

func (l *Ledger) Transfer(ctx context.Context, asset core.AssetID, to string, amount sdkmath.Int) error {
	return l.TransferFrom(ctx, asset, l.account, to, amount)
}

func (l *Ledger) TransferFrom(ctx context.Context, asset core.AssetID, from, to string, amount sdkmath.Int) error {
	err := l.writes.PostJSON(ctx, "/transfer", transferRequest{
		Asset:  string(asset),
		From:   from,
		To:     to,
		Amount: amount.String(),
	}, nil)
	return mapLedgerRejection(err)
}
